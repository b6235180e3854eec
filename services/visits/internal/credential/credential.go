// Package credential mints the backup codes and scannable payloads visitors present at the door.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/diagnosis/museum-visits/internal/utils"
	"github.com/skip2/go-qrcode"
)

const (
	codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O or 1/I
	codeLength  = 8
	qrSize      = 256

	payloadVersion = 1
)

var ErrInvalidPayload = errors.New("invalid credential payload")

// Encoder renders a payload to a raster image.
type Encoder interface {
	Encode(content string) ([]byte, error)
}

// QREncoder produces PNG QR codes.
type QREncoder struct {
	Level qrcode.RecoveryLevel
	Size  int
}

func (e QREncoder) Encode(content string) ([]byte, error) {
	size := e.Size
	if size == 0 {
		size = qrSize
	}
	return qrcode.Encode(content, e.Level, size)
}

// Payload is the JSON document embedded in the QR image.
type Payload struct {
	Version    int    `json:"v"`
	BookingID  string `json:"bookingId"`
	VisitorID  string `json:"visitorId"`
	TokenID    string `json:"tokenId,omitempty"`
	BackupCode string `json:"backupCode"`
}

// Credential is a freshly rendered payload plus its image.
type Credential struct {
	Payload    Payload
	BackupCode string
	Image      string // data:image/png;base64,...
}

type Issuer struct {
	enc  Encoder
	rand io.Reader
}

func NewIssuer(enc Encoder) *Issuer {
	if enc == nil {
		enc = QREncoder{Level: qrcode.Medium}
	}
	return &Issuer{enc: enc, rand: rand.Reader}
}

// NewBackupCode returns a random code formatted as XXXX-XXXX.
func (i *Issuer) NewBackupCode() (string, error) {
	var sb strings.Builder
	alphaLen := big.NewInt(int64(len(codeCharset)))
	for n := 0; n < codeLength; n++ {
		num, err := rand.Int(i.rand, alphaLen)
		if err != nil {
			return "", fmt.Errorf("generate backup code: %w", err)
		}
		if n == codeLength/2 {
			sb.WriteByte('-')
		}
		sb.WriteByte(codeCharset[num.Int64()])
	}
	return sb.String(), nil
}

// Mint issues a credential with a brand-new backup code.
func (i *Issuer) Mint(bookingID, visitorID, tokenID string) (*Credential, error) {
	code, err := i.NewBackupCode()
	if err != nil {
		return nil, err
	}
	return i.render(bookingID, visitorID, tokenID, code)
}

// Regenerate re-renders a visitor's credential around the code already on record.
// A visitor that never had a code gets its own id as the code.
func (i *Issuer) Regenerate(bookingID, visitorID, tokenID, existingCode string) (*Credential, error) {
	code := strings.TrimSpace(existingCode)
	if code == "" {
		code = visitorID
	}
	return i.render(bookingID, visitorID, tokenID, code)
}

func (i *Issuer) render(bookingID, visitorID, tokenID, code string) (*Credential, error) {
	p := Payload{
		Version:    payloadVersion,
		BookingID:  bookingID,
		VisitorID:  visitorID,
		TokenID:    tokenID,
		BackupCode: code,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	png, err := i.enc.Encode(string(raw))
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return &Credential{
		Payload:    p,
		BackupCode: code,
		Image:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// ParsePayload decodes what a scanner read off a QR image.
func ParsePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.VisitorID == "" && p.TokenID == "" && p.BackupCode == "" {
		return Payload{}, ErrInvalidPayload
	}
	return p, nil
}

// CanonicalCode restores the XXXX-XXXX shape of a hand-typed code.
// Anything that is not an eight character code (a visitor id used as the code) is only trimmed.
func CanonicalCode(in string) string {
	norm := utils.NormalizeCode(in)
	if len(norm) == codeLength {
		return norm[:codeLength/2] + "-" + norm[codeLength/2:]
	}
	return strings.TrimSpace(in)
}
