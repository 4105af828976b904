// Package channeldata decodes and encodes N42 ChannelData count streams.
//
// Two compressions exist. None is a plain whitespace-separated list of
// counts. CountedZeroes replaces every run of zeros with the pair "0 n".
package channeldata

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/n42kit/core/errors"
)

// Compression identifies how a ChannelData token stream is encoded.
type Compression int

const (
	// None is an uncompressed token stream.
	None Compression = iota
	// CountedZeroes is the run-length-zeros scheme.
	CountedZeroes
)

// CountedZeroesCode is the compressionCode attribute value for CountedZeroes.
const CountedZeroesCode = "CountedZeroes"

// ParseCompression maps a compressionCode attribute value to a Compression.
// Absent or unrecognized values mean None.
func ParseCompression(code string) Compression {
	if strings.TrimSpace(code) == CountedZeroesCode {
		return CountedZeroes
	}
	return None
}

// String returns the attribute value for c, empty for None.
func (c Compression) String() string {
	switch c {
	case None:
		return ""
	case CountedZeroes:
		return CountedZeroesCode
	default:
		return fmt.Sprintf("Compression(%d)", int(c))
	}
}

// Decode parses a whitespace-separated token stream into channel counts.
func Decode(text string, c Compression) ([]uint64, error) {
	return DecodeLimit(text, c, math.MaxInt)
}

// DecodeLimit is Decode with an upper bound on the number of decoded counts.
// Exceeding it fails before any zero run is expanded.
func DecodeLimit(text string, c Compression, limit uint64) ([]uint64, error) {
	tokens := strings.Fields(text)
	values := make([]uint64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return nil, &errors.DecodeError{Position: i, Token: tok, Message: "not a non-negative integer", Err: err}
		}
		values[i] = v
	}

	switch c {
	case None:
		if uint64(len(values)) > limit {
			return nil, tooMany(int(limit), limit)
		}
		return values, nil
	case CountedZeroes:
		return expandZeros(values, limit)
	default:
		return nil, &errors.DecodeError{Message: "unknown compression " + c.String()}
	}
}

func expandZeros(tokens []uint64, limit uint64) ([]uint64, error) {
	limit = min(limit, math.MaxInt)
	total, err := expandedLen(tokens, limit)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, total)
	for k := 0; k < len(tokens); {
		if tokens[k] != 0 {
			out = append(out, tokens[k])
			k++
			continue
		}
		out = append(out, make([]uint64, tokens[k+1])...)
		k += 2
	}
	return out, nil
}

// expandedLen sizes the CountedZeroes expansion of tokens without allocating it.
func expandedLen(tokens []uint64, limit uint64) (uint64, error) {
	var total uint64
	for k := 0; k < len(tokens); {
		n, step := uint64(1), 1
		if tokens[k] == 0 {
			if k+1 >= len(tokens) {
				return 0, &errors.DecodeError{Position: k + 1, Message: "zero token without a repeat count"}
			}
			n, step = tokens[k+1], 2
		}
		if n > limit-total {
			return 0, tooMany(k+step-1, limit)
		}
		total += n
		k += step
	}
	return total, nil
}

func tooMany(pos int, limit uint64) error {
	return &errors.DecodeError{Position: pos, Message: fmt.Sprintf("more than %d channels", limit)}
}

// Encode applies CountedZeroes to counts. Every maximal run of n zeros
// becomes the pair (0, n) and nonzero values pass through.
func Encode(counts []uint64) []uint64 {
	out := make([]uint64, 0, len(counts))
	for k := 0; k < len(counts); {
		if counts[k] != 0 {
			out = append(out, counts[k])
			k++
			continue
		}
		run := uint64(0)
		for k < len(counts) && counts[k] == 0 {
			run++
			k++
		}
		out = append(out, 0, run)
	}
	return out
}

// Format joins tokens with single spaces.
func Format(tokens []uint64) string {
	var sb strings.Builder
	for i, v := range tokens {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatUint(v, 10))
	}
	return sb.String()
}

// EncodeString renders counts as ChannelData text under compression c.
func EncodeString(counts []uint64, c Compression) (string, error) {
	switch c {
	case None:
		return Format(counts), nil
	case CountedZeroes:
		return Format(Encode(counts)), nil
	default:
		return "", fmt.Errorf("encode channel data: unknown compression %s", c)
	}
}
