package audit

import (
	"bytes"
	"fmt"

	"forgecore/internal/models"
)

// Verifier 签名校验（ed25519 公钥等）
type Verifier interface {
	Verify(payload, signature []byte) error
}

// ChainError 单条目校验问题
type ChainError struct {
	Index    int
	EntryID  string
	Sequence uint64
	Reason   string
}

func (e ChainError) Error() string {
	return fmt.Sprintf("entry %d (%s, seq %d): %s", e.Index, e.EntryID, e.Sequence, e.Reason)
}

// Report 链校验结果
type Report struct {
	Total    int
	Signed   int
	Unsigned int
	Problems []ChainError
}

// OK 链完整且全部签名有效
func (r Report) OK() bool { return len(r.Problems) == 0 }

// VerifyChain 校验哈希链：前驱链接、规范字节、哈希、序号连续，verifier 非 nil 时校验签名
// 未签名条目不算问题，但会计入 Unsigned
func VerifyChain(entries []models.AuditEntry, verifier Verifier) Report {
	report := Report{Total: len(entries)}

	for i, entry := range entries {
		fail := func(format string, args ...any) {
			report.Problems = append(report.Problems, ChainError{
				Index:    i,
				EntryID:  entry.ID,
				Sequence: entry.Sequence,
				Reason:   fmt.Sprintf(format, args...),
			})
		}

		if i > 0 {
			prev := entries[i-1]
			if entry.PrevHash != prev.Hash {
				fail("prev_hash does not link to previous entry")
			}
			if entry.Sequence != prev.Sequence+1 {
				fail("sequence gap: %d after %d", entry.Sequence, prev.Sequence)
			}
		}

		canonical, err := Canonicalize(entry.ID, entry.Sequence, entry.PrevHash, entry.Event)
		if err != nil {
			fail("canonicalize: %v", err)
		} else if len(entry.Canonical) > 0 && !bytes.Equal(canonical, entry.Canonical) {
			fail("event content does not match canonical bytes")
		}

		if entry.Hash != ChainHash(entry.PrevHash, entry.Canonical, entry.Signature) {
			fail("hash mismatch")
		}

		if !entry.Signed() {
			report.Unsigned++
			if entry.SignerError == "" {
				fail("signature absent without signer_error")
			}
			continue
		}
		report.Signed++
		if verifier != nil {
			if err := verifier.Verify(entry.Canonical, entry.Signature); err != nil {
				fail("signature invalid: %v", err)
			}
		}
	}
	return report
}
