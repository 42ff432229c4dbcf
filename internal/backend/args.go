package backend

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// Nat は非負整数を10進文字列のValueに変換する。
func Nat(n uint64) *structpb.Value {
	return structpb.NewStringValue(strconv.FormatUint(n, 10))
}

// NatBig は任意精度の非負整数を10進文字列のValueに変換する。
func NatBig(n *big.Int) *structpb.Value {
	if n == nil {
		return structpb.NewStringValue("0")
	}
	return structpb.NewStringValue(n.String())
}

// Strings は文字列配列をValueに変換する。
func Strings(ss []string) *structpb.Value {
	vals := make([]*structpb.Value, 0, len(ss))
	for _, s := range ss {
		vals = append(vals, structpb.NewStringValue(s))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

// Args は引数リストを組み立てる。
func Args(vals ...*structpb.Value) *structpb.ListValue {
	return &structpb.ListValue{Values: vals}
}

// ArgCountError は引数の個数が合わないことを示す。
type ArgCountError struct {
	Method string
	Want   int
	Got    int
}

func (e *ArgCountError) Error() string {
	return fmt.Sprintf("%s expects %d arguments, got %d", e.Method, e.Want, e.Got)
}

// CheckArgs は引数の個数を検証する。
func CheckArgs(method string, args *structpb.ListValue, want int) error {
	if got := len(args.GetValues()); got != want {
		return &ArgCountError{Method: method, Want: want, Got: got}
	}
	return nil
}

// ArgNat は10進文字列または数値の引数を任意精度整数として読む。
func ArgNat(v *structpb.Value) (*big.Int, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, ok := new(big.Int).SetString(strings.TrimSpace(k.StringValue), 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("invalid natural number %q", k.StringValue)
		}
		return n, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, fmt.Errorf("invalid natural number %v", f)
		}
		n, _ := big.NewFloat(f).Int(nil)
		return n, nil
	default:
		return nil, fmt.Errorf("expected natural number, got %T", v.GetKind())
	}
}

// ArgUint64 は引数をuint64として読む。
func ArgUint64(v *structpb.Value) (uint64, error) {
	n, err := ArgNat(v)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%s overflows uint64", n)
	}
	return n.Uint64(), nil
}

// ArgString は文字列引数を読む。
func ArgString(v *structpb.Value) (string, error) {
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v.GetKind())
	}
	return s.StringValue, nil
}

// ArgStrings は文字列配列の引数を読む。
func ArgStrings(v *structpb.Value) ([]string, error) {
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v.GetKind())
	}
	out := make([]string, 0, len(list.ListValue.GetValues()))
	for _, item := range list.ListValue.GetValues() {
		s, err := ArgString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
