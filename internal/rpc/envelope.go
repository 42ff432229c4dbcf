package rpc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/proto"
)

// リクエストエンベロープのメタデータキー。
const (
	HeaderRequestID   = "x-coestate-request-id"
	HeaderExpiry      = "x-coestate-ingress-expiry"
	HeaderSender      = "x-coestate-sender"
	HeaderPublicKey   = "x-coestate-sender-pubkey"
	HeaderDelegation  = "x-coestate-delegation"
	HeaderSignature   = "x-coestate-sender-sig"
	HeaderCanister    = "x-coestate-canister"
	HeaderCertificate = "x-coestate-certificate"
)

var deterministic = proto.MarshalOptions{Deterministic: true}

func marshalDeterministic(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("unsupported message type %T", v)
	}
	return deterministic.Marshal(msg)
}

// RequestDigest は送信者署名の対象となるダイジェストを返す。
func RequestDigest(method, requestID string, expiry int64, body []byte) []byte {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(requestID))
	h.Write([]byte(strconv.FormatInt(expiry, 10)))
	h.Write(body)
	return h.Sum(nil)
}

// ResponseDigest はルート鍵による応答証明の対象となるダイジェストを返す。
func ResponseDigest(method string, body []byte) []byte {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write(body)
	return h.Sum(nil)
}

func encodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeBytes(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
