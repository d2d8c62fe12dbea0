package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"banhang/backend/internal/domain"
)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

// VNPayGateway builds signed redirect URLs; the payment itself completes on
// the provider's page and is reconciled through its return callback.
type VNPayGateway struct {
	cfg VNPayConfig
	now func() time.Time
}

func NewVNPayGateway(cfg VNPayConfig) *VNPayGateway {
	return &VNPayGateway{cfg: cfg, now: time.Now}
}

func (g *VNPayGateway) Name() string {
	return "vnpay"
}

func (g *VNPayGateway) Supports(method domain.PaymentMethod) bool {
	return method == domain.PaymentVNPay
}

func (g *VNPayGateway) Initiate(_ context.Context, req Request) (Result, error) {
	if g.cfg.TmnCode == "" || g.cfg.HashSecret == "" || g.cfg.PayURL == "" {
		return Result{}, ErrGatewayMisconfigured
	}

	txnRef := strings.ReplaceAll(uuid.NewString(), "-", "")
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = g.cfg.ReturnURL
	}
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	orderInfo := req.Description
	if orderInfo == "" {
		orderInfo = "Thanh toan hoa don " + req.InvoiceCode
	}

	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", g.cfg.TmnCode)
	params.Set("vnp_Amount", req.Amount.Mul(hundred).StringFixed(0))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_OrderInfo", orderInfo)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", g.now().In(vietnamZone).Format("20060102150405"))

	query := canonicalQuery(params)
	signed := query + "&vnp_SecureHash=" + Sign(g.cfg.HashSecret, query)

	return Result{
		Status:               StatusPending,
		GatewayTransactionID: txnRef,
		RedirectURL:          g.cfg.PayURL + "?" + signed,
	}, nil
}

// VerifyReturn checks the signature on a VNPay return or IPN query.
func (g *VNPayGateway) VerifyReturn(values url.Values) bool {
	got := values.Get("vnp_SecureHash")
	if got == "" {
		return false
	}
	filtered := url.Values{}
	for k, v := range values {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		filtered[k] = v
	}
	want := Sign(g.cfg.HashSecret, canonicalQuery(filtered))
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(want))
}

func Sign(secret string, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func canonicalQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(values.Get(k)))
	}
	return strings.Join(parts, "&")
}

var (
	vietnamZone = time.FixedZone("ICT", 7*60*60)
	hundred     = decimal.NewFromInt(100)
)
