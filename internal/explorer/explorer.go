// Package explorer builds block-explorer links for rounds and bets.
package explorer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Kind is the type of object a link points to.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindAddress     Kind = "address"
	KindBlock       Kind = "block"
	KindCountdown   Kind = "countdown"
)

var (
	ErrUnknownKind = errors.New("explorer: unknown link kind")
	ErrInvalidData = errors.New("explorer: invalid link target")
)

// BaseURLs maps chain ids to their explorer.
var BaseURLs = map[int]string{
	56: "https://bscscan.com",
	97: "https://testnet.bscscan.com",
}

// Explorer builds links against one explorer base URL.
type Explorer struct {
	base string
}

// New returns an explorer for chainID. A non-empty baseURL overrides the
// chain default; chains without a default fall back to mainnet.
func New(chainID int, baseURL string) *Explorer {
	if baseURL == "" {
		baseURL = BaseURLs[chainID]
	}
	if baseURL == "" {
		baseURL = BaseURLs[56]
	}
	return &Explorer{base: strings.TrimRight(baseURL, "/")}
}

// Link returns the explorer URL for data.
func (e *Explorer) Link(data string, kind Kind) (string, error) {
	switch kind {
	case KindTransaction:
		b, err := hexutil.Decode(data)
		if err != nil || len(b) != common.HashLength {
			return "", fmt.Errorf("%w: transaction hash %q", ErrInvalidData, data)
		}
		return fmt.Sprintf("%s/tx/%s", e.base, data), nil

	case KindAddress:
		if !common.IsHexAddress(data) {
			return "", fmt.Errorf("%w: address %q", ErrInvalidData, data)
		}
		return fmt.Sprintf("%s/%s/%s", e.base, kind, common.HexToAddress(data).Hex()), nil

	case KindBlock:
		return fmt.Sprintf("%s/block/%s", e.base, data), nil

	case KindCountdown:
		return fmt.Sprintf("%s/block/countdown/%s", e.base, data), nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// BlockLink returns the link to a block number. Block numbers are always
// valid targets.
func (e *Explorer) BlockLink(block uint64) string {
	u, _ := e.Link(strconv.FormatUint(block, 10), KindBlock)
	return u
}

// CountdownLink returns the explorer countdown page for a future block.
func (e *Explorer) CountdownLink(block uint64) string {
	u, _ := e.Link(strconv.FormatUint(block, 10), KindCountdown)
	return u
}
