// Package normalize はバックエンドのワイヤー形式レコードを表示用の安定したエンティティに変換する。
//
// 変換は全て純粋関数であり、セッション状態を参照せず、エラーも返さない。
// 欠損や不正な値はフィールドごとに決められた既定値に置き換えられる。
package normalize

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"github.com/hitoshi/coestate/internal/security"
)

// RawRecord はリモート呼び出しが返すワイヤー形式のレコード。
// 列挙型は {Variant: nil|payload} の単一キーマップ、整数は10進文字列や数値で届く。
type RawRecord = map[string]any

const (
	// FormulaVersion は派生値（総株数、投資額、保有比率、利回り）の計算式のバージョン。
	// 計算式を変える場合は必ずこの値を上げる。
	FormulaVersion = 1

	// MaxSafeInteger はfloat64で整数を正確に表現できる上限 (2^53 - 1)。
	// これを超える数量は丸められる。
	MaxSafeInteger = 1<<53 - 1

	// Unknown は物件種別が不明な場合の既定値。
	Unknown = "unknown"
	// NotAvailable はリース状態や日付が不明な場合の既定値。
	NotAvailable = "N/A"
)

var sanitizer security.TextSanitizerService = security.NewTextSanitizer()

// Variant は単一キーマップで表現された列挙値のタグを返す。
// マップでない、空、複数キーの場合はsentinelを返す。
func Variant(v any, sentinel string) string {
	m, ok := unwrapOpt(v).(map[string]any)
	if !ok || len(m) != 1 {
		return sentinel
	}
	for k := range m {
		if k == "" {
			return sentinel
		}
		return k
	}
	return sentinel
}

// knownVariant は既知のタグ集合に含まれる場合のみタグを返す。
func knownVariant(v any, known []string, sentinel string) string {
	tag := Variant(v, sentinel)
	for _, k := range known {
		if tag == k {
			return tag
		}
	}
	return sentinel
}

// Number は任意精度整数を含む数値表現をfloat64に変換する。
// 文字列はmath/bigで解析する。nilや解析できない値、非有限値は0になる。
// MaxSafeIntegerを超える整数は最も近いfloat64に丸められる。
func Number(v any) float64 {
	switch n := unwrapOpt(v).(type) {
	case nil:
		return 0
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		return parseDecimal(string(n))
	case string:
		return parseDecimal(n)
	case *big.Int:
		if n == nil {
			return 0
		}
		f, _ := new(big.Float).SetInt(n).Float64()
		return finite(f)
	default:
		return 0
	}
}

// ID は識別子をuint64に変換する。負数は0、範囲外は最大値に飽和させる。
func ID(v any) uint64 {
	switch n := unwrapOpt(v).(type) {
	case string:
		return parseID(n)
	case json.Number:
		return parseID(string(n))
	case *big.Int:
		if n == nil {
			return 0
		}
		return saturate(n)
	case uint64:
		return n
	case uint:
		return uint64(n)
	case uint32:
		return uint64(n)
	case int64:
		if n < 0 {
			return 0
		}
		return uint64(n)
	case int:
		if n < 0 {
			return 0
		}
		return uint64(n)
	}
	f := Number(v)
	switch {
	case f <= 0:
		return 0
	case f >= math.MaxUint64:
		return math.MaxUint64
	default:
		return uint64(f)
	}
}

// Text は文字列フィールドをサニタイズ済みのプレーンテキストとして返す。文字列でなければ空文字列。
func Text(v any) string {
	s, ok := unwrapOpt(v).(string)
	if !ok {
		return ""
	}
	return sanitizer.Sanitize(s)
}

// TextOr はTextが空の場合にfallbackを返す。
func TextOr(v any, fallback string) string {
	if s := Text(v); s != "" {
		return s
	}
	return fallback
}

// Record はネストしたレコードを返す。マップでなければnil。
func Record(v any) RawRecord {
	m, _ := unwrapOpt(v).(map[string]any)
	return m
}

// List は配列フィールドを返す。配列でなければnil。
// 候補型のオプション配列 ([]any{} / []any{x}) と通常の配列は区別できないため、
// 配列フィールドはそのまま要素列として扱う。
func List(v any) []any {
	l, _ := v.([]any)
	return l
}

// unwrapOpt はオプション値 ([]any{} / []any{x}) を展開する。
// 要素が2つ以上の配列は値として扱わない。
func unwrapOpt(v any) any {
	l, ok := v.([]any)
	if !ok {
		return v
	}
	if len(l) == 1 {
		return l[0]
	}
	return nil
}

func parseDecimal(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if i, ok := new(big.Int).SetString(s, 10); ok {
		f, _ := new(big.Float).SetInt(i).Float64()
		return finite(f)
	}
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return 0
	}
	out, _ := f.Float64()
	return finite(out)
}

func parseID(s string) uint64 {
	s = strings.TrimSpace(s)
	if i, ok := new(big.Int).SetString(s, 10); ok {
		return saturate(i)
	}
	f := parseDecimal(s)
	if f <= 0 {
		return 0
	}
	if f >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(f)
}

func saturate(i *big.Int) uint64 {
	if i.Sign() <= 0 {
		return 0
	}
	if !i.IsUint64() {
		return math.MaxUint64
	}
	return i.Uint64()
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// round2 は小数第2位に丸める。
func round2(f float64) float64 {
	return finite(math.Round(f*100) / 100)
}

// ratio は分母が0の場合に0を返す割り算。
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finite(num / den)
}
