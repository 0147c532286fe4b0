package utils

// Formatting helpers for balances and addresses shown to the user.

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/aviate-labs/agent-go/principal"
	"github.com/ethereum/go-ethereum/params"
)

// E8sPerICP is the number of e8s in one ICP token.
const E8sPerICP = 100_000_000

// FormatWei renders a wei amount in ether with all significant decimals,
// e.g. 1500000000000000000 becomes "1.5".
func FormatWei(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	return formatFixed(wei, big.NewInt(params.Ether), 18)
}

// FormatE8s renders an e8s amount in ICP with eight decimals.
func FormatE8s(e8s uint64) string {
	return fmt.Sprintf("%d.%08d", e8s/E8sPerICP, e8s%E8sPerICP)
}

func formatFixed(v, unit *big.Int, decimals int) string {
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	whole, frac := new(big.Int).QuoRem(abs, unit, new(big.Int))

	fs := frac.String()
	if len(fs) < decimals {
		fs = strings.Repeat("0", decimals-len(fs)) + fs
	}
	fs = strings.TrimRight(fs, "0")
	if fs == "" {
		fs = "0"
	}
	s := whole.String() + "." + fs
	if neg {
		s = "-" + s
	}
	return s
}

// ShortAddress abbreviates an address to its first six and last four
// characters.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func DecodePrincipal(principalString string) (principal.Principal, error) {
	decPrincipal, err := principal.Decode(principalString)
	if err != nil {
		return principal.Principal{}, fmt.Errorf("error decoding Principal String: %w", err)
	}
	return decPrincipal, nil
}

func FormatWithUnderscores(n uint64) string {
	s := fmt.Sprintf("%d", n)
	parts := make([]string, 0, (len(s)+2)/3)

	for len(s) > 0 {
		chunkSize := len(s) % 3
		if chunkSize == 0 {
			chunkSize = 3
		}
		parts = append(parts, s[:chunkSize])
		s = s[chunkSize:]
	}

	return strings.Join(parts, "_")
}
