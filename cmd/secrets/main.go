// 钱包密钥入库工具：把私钥或助记词写进加密的 secretstore，
// 之后机器人配置 wallet.secret_store_path 即可，环境变量里不再留明文。
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/betbot/snipebot/pkg/secretstore"
)

func main() {
	var (
		dbPath    = flag.String("store", getenv("SECRET_STORE_PATH", "data/secrets"), "secretstore 目录")
		secretKey = flag.String("key", getenv("SECRET_STORE_KEY", ""), "32 字节加密密钥（base64/hex）")
		show      = flag.Bool("show", false, "只读取并打印已存的键名（不打印值）")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("需要加密密钥：设置 SECRET_STORE_KEY 或传 -key"))
	}

	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      *show,
	})
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	if *show {
		for _, k := range []string{secretstore.KeyPrivateKey, secretstore.KeyMnemonic} {
			if _, found, err := store.Get(k); err != nil {
				fatal(err)
			} else if found {
				fmt.Printf("%s: 已设置\n", k)
			} else {
				fmt.Printf("%s: 未设置\n", k)
			}
		}
		return
	}

	// 从 stdin 读而不是从参数读：避免密钥进 shell history
	reader := bufio.NewReader(os.Stdin)
	fmt.Fprint(os.Stderr, "私钥（hex，留空跳过）: ")
	pk, _ := reader.ReadString('\n')
	if pk = strings.TrimSpace(pk); pk != "" {
		if err := store.Set(secretstore.KeyPrivateKey, pk); err != nil {
			fatal(err)
		}
		fmt.Fprintln(os.Stderr, "私钥已写入")
	}

	fmt.Fprint(os.Stderr, "助记词（留空跳过）: ")
	mn, _ := reader.ReadString('\n')
	if mn = strings.TrimSpace(mn); mn != "" {
		if err := store.Set(secretstore.KeyMnemonic, mn); err != nil {
			fatal(err)
		}
		fmt.Fprintln(os.Stderr, "助记词已写入")
	}

	if strings.TrimSpace(pk) == "" && strings.TrimSpace(mn) == "" {
		fmt.Fprintln(os.Stderr, "没有写入任何内容")
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "错误:", err)
	os.Exit(1)
}
