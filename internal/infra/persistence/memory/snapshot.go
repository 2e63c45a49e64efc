package memory

import (
	"encoding/json"
	"fmt"

	"shift2me/pkg/domain"
)

// Bucket names used by every snapshotting backend.
const (
	BucketTitration = "titration"
	BucketProtocol  = "protocol"
	BucketResidues  = "residues"
)

// Buckets lists the snapshot buckets in write order.
var Buckets = []string{BucketTitration, BucketProtocol, BucketResidues}

type titrationHeader struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Steps    int      `json:"steps"`
	Files    []string `json:"files"`
	Cutoff   *float64 `json:"cutoff,omitempty"`
	Selected []int    `json:"selected"`
}

// EncodeState splits a titration snapshot into per-bucket JSON payloads.
func EncodeState(s domain.State) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case BucketTitration:
			data, err = json.Marshal(titrationHeader{
				ID:       s.ID,
				Name:     s.Name,
				Steps:    s.Steps,
				Files:    s.Files,
				Cutoff:   s.Cutoff,
				Selected: s.Selected,
			})
		case BucketProtocol:
			data, err = json.Marshal(s.Protocol)
		case BucketResidues:
			data, err = json.Marshal(s.Residues)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeState joins bucket payloads back into a snapshot. ok is false when
// no titration bucket has been written yet. Unknown buckets are ignored.
func DecodeState(payloads map[string][]byte) (domain.State, bool, error) {
	raw, ok := payloads[BucketTitration]
	if !ok || len(raw) == 0 {
		return domain.State{}, false, nil
	}
	var header titrationHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return domain.State{}, false, fmt.Errorf("decode %s: %w", BucketTitration, err)
	}
	s := domain.State{
		ID:       header.ID,
		Name:     header.Name,
		Steps:    header.Steps,
		Files:    header.Files,
		Cutoff:   header.Cutoff,
		Selected: header.Selected,
	}
	if data := payloads[BucketProtocol]; len(data) > 0 {
		if err := json.Unmarshal(data, &s.Protocol); err != nil {
			return domain.State{}, false, fmt.Errorf("decode %s: %w", BucketProtocol, err)
		}
	}
	if data := payloads[BucketResidues]; len(data) > 0 {
		if err := json.Unmarshal(data, &s.Residues); err != nil {
			return domain.State{}, false, fmt.Errorf("decode %s: %w", BucketResidues, err)
		}
	}
	return s, true, nil
}
