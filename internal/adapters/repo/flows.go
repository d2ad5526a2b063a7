package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/infra/metrics"
)

var _ domain.FlowRepo = (*Postgres)(nil)

// encodeDraft сериализует черновик. Тип черновика определяется именем диалога.
func encodeDraft(draft domain.FlowDraft) ([]byte, error) {
	if draft == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("черновик %s: %w", draft.FlowName(), err)
	}
	return data, nil
}

func decodeDraft(name domain.FlowName, data []byte) (domain.FlowDraft, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	var (
		draft domain.FlowDraft
		err   error
	)
	switch name {
	case domain.FlowManualCreate:
		var d domain.CreateDraft
		err = json.Unmarshal(data, &d)
		draft = d
	case domain.FlowImport:
		var d domain.ImportDraft
		err = json.Unmarshal(data, &d)
		draft = d
	case domain.FlowImportReview, domain.FlowPrefillEdit:
		var d domain.ReviewDraft
		err = json.Unmarshal(data, &d)
		d.Prefill = name == domain.FlowPrefillEdit
		draft = d
	case domain.FlowEditField:
		var d domain.EditDraft
		err = json.Unmarshal(data, &d)
		draft = d
	case domain.FlowUPC:
		var d domain.UPCDraft
		err = json.Unmarshal(data, &d)
		draft = d
	case domain.FlowReleaseDate:
		draft = domain.ReleaseDateDraft{}
	default:
		return nil, fmt.Errorf("неизвестный диалог %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("черновик %s: %w", name, err)
	}
	return draft, nil
}

// StartFlow заменяет диалог пользователя новым.
func (p *Postgres) StartFlow(ctx context.Context, flow domain.Flow) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	draft, err := encodeDraft(flow.Draft)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO user_flows (tg_user_id, name, step, nonce, draft, updated_at)
VALUES ($1,$2,$3,$4,$5,now())
ON CONFLICT (tg_user_id) DO UPDATE SET name=EXCLUDED.name, step=EXCLUDED.step, nonce=EXCLUDED.nonce, draft=EXCLUDED.draft, updated_at=now()
`, flow.UserID, string(flow.Name), flow.Step, flow.Nonce, draft)
	metrics.ObserveNetworkRequest("postgres", "user_flows_start", "user_flows", start, err)
	return err
}

// GetFlow возвращает активный диалог или domain.ErrFlowNotFound.
func (p *Postgres) GetFlow(ctx context.Context, userID int64) (domain.Flow, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		flow domain.Flow
		name string
		raw  []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT tg_user_id, name, step, nonce, draft, updated_at FROM user_flows WHERE tg_user_id=$1
`, userID).Scan(&flow.UserID, &name, &flow.Step, &flow.Nonce, &raw, &flow.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "user_flows_get", "user_flows", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Flow{}, domain.ErrFlowNotFound
	}
	if err != nil {
		return domain.Flow{}, err
	}
	flow.Name = domain.FlowName(name)
	flow.Draft, err = decodeDraft(flow.Name, raw)
	if err != nil {
		return domain.Flow{}, err
	}
	return flow, nil
}

// SaveFlow обновляет шаг и черновик, если диалог не перезапускался.
func (p *Postgres) SaveFlow(ctx context.Context, flow domain.Flow) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	draft, err := encodeDraft(flow.Draft)
	if err != nil {
		return err
	}
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE user_flows SET name=$3, step=$4, draft=$5, updated_at=now()
WHERE tg_user_id=$1 AND nonce=$2
`, flow.UserID, flow.Nonce, string(flow.Name), flow.Step, draft)
	metrics.ObserveNetworkRequest("postgres", "user_flows_save", "user_flows", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFlowStale
	}
	return nil
}

// ReplaceFlow переводит диалог в новое состояние с новым nonce.
// Если за это время диалог отменили или перезапустили, возвращает domain.ErrFlowStale.
func (p *Postgres) ReplaceFlow(ctx context.Context, expectedNonce string, flow domain.Flow) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	draft, err := encodeDraft(flow.Draft)
	if err != nil {
		return err
	}
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE user_flows SET name=$3, step=$4, nonce=$5, draft=$6, updated_at=now()
WHERE tg_user_id=$1 AND nonce=$2
`, flow.UserID, expectedNonce, string(flow.Name), flow.Step, flow.Nonce, draft)
	metrics.ObserveNetworkRequest("postgres", "user_flows_replace", "user_flows", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFlowStale
	}
	return nil
}

// ClearFlow удаляет диалог пользователя.
func (p *Postgres) ClearFlow(ctx context.Context, userID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM user_flows WHERE tg_user_id=$1`, userID)
	metrics.ObserveNetworkRequest("postgres", "user_flows_clear", "user_flows", start, err)
	return err
}
