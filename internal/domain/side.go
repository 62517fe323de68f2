package domain

import "fmt"

// Side 二元市场的方向（封闭枚举，拒绝任意字符串）
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// ParseSide 解析方向字符串，未知值返回错误
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideUp:
		return SideUp, nil
	case SideDown:
		return SideDown, nil
	default:
		return "", fmt.Errorf("未知方向: %q", s)
	}
}

// Opposite 返回对侧方向
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Valid 检查方向是否合法
func (s Side) Valid() bool {
	return s == SideUp || s == SideDown
}

// Sides 两个方向的固定遍历顺序
var Sides = [2]Side{SideUp, SideDown}
