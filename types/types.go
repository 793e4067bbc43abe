// Package types defines the x402 protocol data model consumed by the
// facilitator: payment requirements, signed payment payloads, and the
// verification/settlement result shapes returned to callers.
package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// X402Version is the protocol version this facilitator speaks.
const X402Version = 1

// PaymentScheme identifies how the required amount is interpreted.
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

type SupportedItem struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

type SupportedResponse struct {
	Kinds []SupportedItem `json:"kinds"`
}

// PaymentRequirements defines what a resource server accepts as payment.
// Produced by the resource server, immutable once received.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use. Only "exact" is supported.
	Scheme string `json:"scheme" validate:"required"`

	// Network of the blockchain to send payment on (e.g. "base").
	Network string `json:"network" validate:"required"`

	// Maximum amount required to pay for the resource, in atomic units
	// of the asset. String because Go has no uint256.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required"`

	// URL of the resource to pay for.
	Resource string `json:"resource"`

	// Description of the resource being purchased.
	Description string `json:"description"`

	// MIME type of the resource response.
	MimeType string `json:"mimeType"`

	// Address to which the payment must be sent (the escrow account).
	PayTo string `json:"payTo" validate:"required"`

	// Maximum time in seconds for the resource server to respond.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Address of the EIP-3009 compliant ERC-20 contract.
	Asset string `json:"asset" validate:"required"`

	// Extra scheme-specific information. For "exact" on EVM this may
	// carry the token's EIP-712 domain "name" and "version".
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Amount parses MaxAmountRequired as a base-10 big integer.
func (pr *PaymentRequirements) Amount() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(pr.MaxAmountRequired, 10)
	if !ok {
		return nil, fmt.Errorf("invalid maxAmountRequired %q", pr.MaxAmountRequired)
	}
	return amount, nil
}

// Validate runs the struct-tag validation plus the amount parse the
// tags cannot express.
func (pr *PaymentRequirements) Validate() error {
	if err := validate.Struct(pr); err != nil {
		return &X402Error{
			Code:    ErrInvalidRequirements,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	if _, err := pr.Amount(); err != nil {
		return err
	}
	return nil
}

// PaymentPayload is the signed payment a client submits. The inner
// Payload is decoded per network family: EVM networks carry an
// EIP-3009 authorization plus signature, other families an opaque
// encoded transaction.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme" validate:"required"`
	Network     string          `json:"network" validate:"required"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

// ExactEvmPayload decodes the inner payload as an EVM exact-scheme
// authorization.
func (pp *PaymentPayload) ExactEvmPayload() (*ExactEvmPayload, error) {
	var p ExactEvmPayload
	if err := json.Unmarshal(pp.Payload, &p); err != nil {
		return nil, &X402Error{Code: ErrInvalidPayload, Message: fmt.Sprintf("failed to parse evm payload: %v", err)}
	}
	if p.Signature == "" {
		return nil, &X402Error{Code: ErrInvalidPayload, Message: "missing signature"}
	}
	if p.Authorization.From == "" || p.Authorization.To == "" {
		return nil, &X402Error{Code: ErrInvalidPayload, Message: "incomplete authorization"}
	}
	return &p, nil
}

// Matches checks the invariant that the payload targets the same
// scheme and network the requirements were issued for.
func (pp *PaymentPayload) Matches(reqs *PaymentRequirements) error {
	if !strings.EqualFold(pp.Scheme, reqs.Scheme) {
		return fmt.Errorf("scheme mismatch: payload %q, requirements %q", pp.Scheme, reqs.Scheme)
	}
	if !strings.EqualFold(pp.Network, reqs.Network) {
		return fmt.Errorf("network mismatch: payload %q, requirements %q", pp.Network, reqs.Network)
	}
	return nil
}

// ExactEvmPayload carries a signed EIP-3009 transfer authorization.
type ExactEvmPayload struct {
	// The 65-byte ECDSA signature (r||s||v) over the EIP-712 digest.
	Signature     string               `json:"signature"`
	Authorization EIP3009Authorization `json:"authorization"`
}

type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`       // uint256
	ValidAfter  string `json:"validAfter"`  // uint256 unix seconds
	ValidBefore string `json:"validBefore"` // uint256 unix seconds
	Nonce       string `json:"nonce"`       // bytes32
}

// VerifyRequest is the body of POST /verify and POST /settle.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload" validate:"required"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements" validate:"required"`
}

// Validate runs the struct-tag validation over the whole request,
// then the cross-field invariants tags cannot express: the amount
// parse and the payload/requirements scheme and network match.
func (v *VerifyRequest) Validate() error {
	if err := validate.Struct(v); err != nil {
		return &X402Error{
			Code:    ErrInvalidPayload,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	if _, err := v.PaymentRequirements.Amount(); err != nil {
		return err
	}
	return v.PaymentPayload.Matches(&v.PaymentRequirements)
}

// VerifyResponse is the facilitator's verification verdict.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettlementResult is produced exactly once per settlement attempt by
// the primary settlement step. The distribution executor only ever
// attaches a Distribution sub-record; Success is never rewritten by
// secondary-leg outcomes.
type SettlementResult struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`

	Distribution *DistributionResult `json:"distribution,omitempty"`
}

// DistributionResult records the outcome of the best-effort secondary
// leg that forwards settled funds into the project terminal. It exists
// only as an attachment to a SettlementResult.
type DistributionResult struct {
	Success             bool   `json:"success"`
	ApprovalTransaction string `json:"approvalTransaction,omitempty"`
	PaymentTransaction  string `json:"paymentTransaction,omitempty"`
	ProjectID           string `json:"projectId"`
	Beneficiary         string `json:"beneficiary,omitempty"`
	Amount              string `json:"amount,omitempty"`
	Token               string `json:"token,omitempty"`
	Error               string `json:"error,omitempty"`
}

// USDCDecimals is the decimal precision of the settlement asset.
const USDCDecimals int32 = 6

// HumanAmount renders an atomic token amount in display units for
// logs and API metadata. Unparseable input is returned unchanged.
func HumanAmount(atomic string, decimals int32) string {
	d, err := decimal.NewFromString(atomic)
	if err != nil {
		return atomic
	}
	return d.Shift(-decimals).String()
}

// X402Error is a typed error for programmatic failures.
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *X402Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidPayload      = "INVALID_PAYLOAD"
	ErrInvalidRequirements = "INVALID_REQUIREMENTS"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrUnsupportedScheme   = "UNSUPPORTED_SCHEME"
	ErrVerificationFailed  = "VERIFICATION_FAILED"
	ErrSettlementFailed    = "SETTLEMENT_FAILED"
	ErrDistributionFailed  = "DISTRIBUTION_FAILED"
	ErrNetworkError        = "NETWORK_ERROR"
	ErrConfigError         = "CONFIG_ERROR"
)
