package backend

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestArgNat(t *testing.T) {
	tests := []struct {
		name    string
		in      *structpb.Value
		want    string
		wantErr bool
	}{
		{name: "10進文字列", in: structpb.NewStringValue("12345"), want: "12345"},
		{name: "u64を超える値", in: structpb.NewStringValue("340282366920938463463374607431768211455"), want: "340282366920938463463374607431768211455"},
		{name: "整数の数値", in: structpb.NewNumberValue(42), want: "42"},
		{name: "負数", in: structpb.NewStringValue("-1"), wantErr: true},
		{name: "小数", in: structpb.NewNumberValue(1.5), wantErr: true},
		{name: "数字以外", in: structpb.NewStringValue("abc"), wantErr: true},
		{name: "真偽値", in: structpb.NewBoolValue(true), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ArgNat(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ArgNat() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ArgNat() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("ArgNat() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestArgUint64_Overflow(t *testing.T) {
	if _, err := ArgUint64(structpb.NewStringValue("18446744073709551616")); err == nil {
		t.Error("expected overflow error")
	}
	n, err := ArgUint64(Nat(18446744073709551615))
	if err != nil || n != 18446744073709551615 {
		t.Errorf("ArgUint64(max) = %d, %v", n, err)
	}
}

func TestArgStrings(t *testing.T) {
	got, err := ArgStrings(Strings([]string{"Pool", "Gym"}))
	if err != nil {
		t.Fatalf("ArgStrings() error = %v", err)
	}
	if len(got) != 2 || got[0] != "Pool" || got[1] != "Gym" {
		t.Errorf("ArgStrings() = %v", got)
	}

	mixed := structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
		structpb.NewStringValue("Pool"), structpb.NewNumberValue(1),
	}})
	if _, err := ArgStrings(mixed); err == nil {
		t.Error("expected error for non-string element")
	}
}

func TestCheckArgs(t *testing.T) {
	err := CheckArgs(MethodBuyShare, Args(Nat(1)), 2)
	var countErr *ArgCountError
	if !errors.As(err, &countErr) {
		t.Fatalf("CheckArgs() = %v, want *ArgCountError", err)
	}
	if countErr.Want != 2 || countErr.Got != 1 {
		t.Errorf("ArgCountError = %+v", countErr)
	}
	if err := CheckArgs(MethodBuyShare, Args(Nat(1), Nat(2)), 2); err != nil {
		t.Errorf("CheckArgs() = %v, want nil", err)
	}
}

func TestServiceDesc_CoversAllMethods(t *testing.T) {
	if len(Backend_ServiceDesc.Methods) != len(Methods) {
		t.Fatalf("service desc has %d methods, want %d", len(Backend_ServiceDesc.Methods), len(Methods))
	}
	for i, m := range Methods {
		if Backend_ServiceDesc.Methods[i].MethodName != m {
			t.Errorf("method %d = %q, want %q", i, Backend_ServiceDesc.Methods[i].MethodName, m)
		}
	}
	if got := FullMethod(MethodBuyShare); got != "/coestate.backend.v1.Backend/buy_share" {
		t.Errorf("FullMethod() = %q", got)
	}
}
