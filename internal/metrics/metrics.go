// Package metrics 暴露 expvar 计数器与 pprof 调试端点。
package metrics

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// 下单引擎
	TicksTotal      = expvar.NewInt("engine_ticks")
	OrdersSubmitted = expvar.NewInt("orders_submitted")
	OrdersFilled    = expvar.NewInt("orders_filled")
	OrdersRejected  = expvar.NewInt("orders_rejected")

	// 结算
	TradesWon    = expvar.NewInt("trades_won")
	TradesLost   = expvar.NewInt("trades_lost")
	Redemptions  = expvar.NewInt("redemptions")
	RedeemErrors = expvar.NewInt("redeem_errors")

	// 对账
	ReconcileRuns   = expvar.NewInt("reconcile_runs")
	ReconcileErrors = expvar.NewInt("reconcile_errors")
	PhantomsDropped = expvar.NewInt("phantoms_dropped")

	// 行情
	FeedReconnects = expvar.NewInt("feed_reconnects")
)

// Serve 在 addr 上起调试端点（/debug/vars 与 /debug/pprof），
// ctx 取消时关停。只应监听 localhost 或内网地址。
func Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	// pprof 挂到自己的 mux 上，不走 DefaultServeMux
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if serr := srv.Serve(ln); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			logrus.WithField("component", "metrics").Warnf("调试端点退出: %v", serr)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return nil
}
