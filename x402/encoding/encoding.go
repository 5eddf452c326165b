// Package encoding handles the base64+JSON representation of payment proofs
// carried in the X-Payment header and of 402 requirement bodies.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/veritaslabs/oracle402/x402"
)

// EncodeProof converts a PaymentProof to a base64-encoded JSON string for use
// as an X-Payment header value.
func EncodeProof(proof x402.PaymentProof) (string, error) {
	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(proofJSON), nil
}

// DecodeProof converts a base64-encoded JSON string to a PaymentProof.
// Returns x402.ErrMalformedHeader wrapped with detail if decoding fails.
func DecodeProof(encoded string) (x402.PaymentProof, error) {
	var proof x402.PaymentProof

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return proof, fmt.Errorf("%w: invalid base64: %v", x402.ErrMalformedHeader, err)
	}

	if err := json.Unmarshal(decoded, &proof); err != nil {
		return proof, fmt.Errorf("%w: invalid JSON: %v", x402.ErrMalformedHeader, err)
	}

	if proof.Version != x402.ProtocolVersion {
		return proof, fmt.Errorf("%w: version %q", x402.ErrUnsupportedVersion, proof.Version)
	}

	return proof, nil
}

// EncodeRequirements converts PaymentRequirements to base64-encoded JSON.
func EncodeRequirements(requirements x402.PaymentRequirements) (string, error) {
	reqJSON, err := json.Marshal(requirements)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(reqJSON), nil
}

// DecodeRequirements converts base64-encoded JSON to PaymentRequirements.
func DecodeRequirements(encoded string) (x402.PaymentRequirements, error) {
	var requirements x402.PaymentRequirements

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return requirements, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &requirements); err != nil {
		return requirements, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	return requirements, nil
}
