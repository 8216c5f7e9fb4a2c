package repo

import (
	"encoding/json"
	"fmt"

	"quizgen/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

type jobJSON struct {
	params  []byte
	quizIDs []byte
	keys    []byte
}

func encodeJobJSON(job *domain.GenerationJob) (jobJSON, error) {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return jobJSON{}, fmt.Errorf("encode params: %w", err)
	}
	ids := job.ResultQuizIDs
	if ids == nil {
		ids = []string{}
	}
	quizIDs, err := json.Marshal(ids)
	if err != nil {
		return jobJSON{}, fmt.Errorf("encode quiz ids: %w", err)
	}
	keys := job.BillingIdempotencyKeys
	if keys == nil {
		keys = map[string]string{}
	}
	rawKeys, err := json.Marshal(keys)
	if err != nil {
		return jobJSON{}, fmt.Errorf("encode idempotency keys: %w", err)
	}
	return jobJSON{params: params, quizIDs: quizIDs, keys: rawKeys}, nil
}

func (j jobJSON) decodeInto(job *domain.GenerationJob) error {
	if len(j.params) > 0 {
		if err := json.Unmarshal(j.params, &job.Params); err != nil {
			return fmt.Errorf("decode params: %w", err)
		}
	}
	if len(j.quizIDs) > 0 {
		if err := json.Unmarshal(j.quizIDs, &job.ResultQuizIDs); err != nil {
			return fmt.Errorf("decode quiz ids: %w", err)
		}
	}
	if len(j.keys) > 0 {
		if err := json.Unmarshal(j.keys, &job.BillingIdempotencyKeys); err != nil {
			return fmt.Errorf("decode idempotency keys: %w", err)
		}
	}
	if len(job.BillingIdempotencyKeys) == 0 {
		job.BillingIdempotencyKeys = nil
	}
	return nil
}
