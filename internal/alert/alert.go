// Package alert encodes and decodes TLS/DTLS Alert records (RFC5246 §7.2)
// and defines the error taxonomy the handshake core uses to decide whether
// an event is fatal and, if so, which wire alert to send before tearing
// down.
package alert

import (
	"errors"
	"fmt"
)

// Level : Alertレベル
// RFC5246 7.2 Alert Protocol参照
type Level byte

const (
	LevelWarning Level = 1
	LevelFatal   Level = 2
)

// Description : Alertの種別
type Description byte

const (
	DescCloseNotify          Description = 0
	DescUnexpectedMessage    Description = 10
	DescDecryptError         Description = 51
	DescHandshakeFailure     Description = 40
	DescDecodeError          Description = 50
	DescInternalError        Description = 80
	DescNoRenegotiation      Description = 100
)

// Alert : Alertレコードの中身(level, description)
type Alert struct {
	Level       Level
	Description Description
}

// ToBytes : ワイヤ形式(2byte)に変換する
func (a Alert) ToBytes() []byte {
	return []byte{byte(a.Level), byte(a.Description)}
}

// Parse : 2byteの生データからAlertを復元する
func Parse(raw []byte) (Alert, error) {
	if len(raw) < 2 {
		return Alert{}, errors.New("alert: short record")
	}
	return Alert{Level: Level(raw[0]), Description: Description(raw[1])}, nil
}

type Kind int

const (
	KindNone Kind = iota
	KindInvalidArgument
	KindInvalidState
	KindInternal
	KindCryptoAdapterFailure
	KindAlertUnexpectedMessage
	KindAlertHandshakeFailure
	KindAlertDecryptError
	KindAlertDecodeError
	KindAlertCloseNotify
	KindRenegotiationRejected
	KindContainerCorrupted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInvalidState:
		return "InvalidState"
	case KindInternal:
		return "Internal"
	case KindCryptoAdapterFailure:
		return "CryptoAdapterFailure"
	case KindAlertUnexpectedMessage:
		return "AlertUnexpectedMessage"
	case KindAlertHandshakeFailure:
		return "AlertHandshakeFailure"
	case KindAlertDecryptError:
		return "AlertDecryptError"
	case KindAlertDecodeError:
		return "AlertDecodeError"
	case KindAlertCloseNotify:
		return "AlertCloseNotify"
	case KindRenegotiationRejected:
		return "RenegotiationRejected"
	case KindContainerCorrupted:
		return "ContainerCorrupted"
	default:
		return "None"
	}
}

// IsFatal : このKindが接続を切断すべきものか
// AlertCloseNotifyは平和的切断のため致命的エラーとは扱うが、再送等は行わない
func (k Kind) IsFatal() bool {
	return k != KindNone
}

// ForWire : このKindに対応するAlertレコードを返す
// 送るべきAlertが無いKind(InvalidArgument等、ローカルのみで完結するもの)は ok=false
func (k Kind) ForWire() (a Alert, ok bool) {
	switch k {
	case KindAlertUnexpectedMessage:
		return Alert{LevelFatal, DescUnexpectedMessage}, true
	case KindAlertHandshakeFailure:
		return Alert{LevelFatal, DescHandshakeFailure}, true
	case KindAlertDecryptError:
		return Alert{LevelFatal, DescDecryptError}, true
	case KindAlertDecodeError:
		return Alert{LevelFatal, DescDecodeError}, true
	case KindAlertCloseNotify:
		return Alert{LevelWarning, DescCloseNotify}, true
	case KindRenegotiationRejected:
		return Alert{LevelWarning, DescNoRenegotiation}, true
	case KindCryptoAdapterFailure, KindInternal:
		return Alert{LevelFatal, DescInternalError}, true
	default:
		return Alert{}, false
	}
}

// Error : ハンドシェイク内で発生したエラー。Kindで機械的に分類でき、
// Messageは診断用の人間可読文字列(on_disconnectedにそのまま渡る)。
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// FromPeerAlert : 受信したAlertレコードをKindへ変換する
// close_notifyは平和的切断、その他のfatalレベルは一律HandshakeFailure扱い
// (個別のdescriptionはMessageに残すので診断情報は失わない)
func FromPeerAlert(a Alert) *Error {
	if a.Description == DescCloseNotify {
		return New(KindAlertCloseNotify, "peer sent close_notify")
	}
	return New(KindAlertHandshakeFailure, fmt.Sprintf("peer alert level=%d description=%d", a.Level, a.Description))
}
