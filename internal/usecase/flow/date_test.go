package flow

import (
	"context"
	"errors"
	"testing"

	"smartlink-bot/internal/domain"
)

type stubDates struct {
	raw []string
}

func (s *stubDates) SetReleaseDate(ctx context.Context, tgUserID int64, raw string) (domain.Reply, error) {
	s.raw = append(s.raw, raw)
	return domain.TextReply("Ок. Дата релиза: " + raw), nil
}

func TestReleaseDateForm(t *testing.T) {
	f := newFixture()
	dates := &stubDates{}
	WithReleaseDates(dates)(f.svc)
	ctx := context.Background()

	if err := f.svc.StartReleaseDate(ctx, userID, userID); err != nil {
		t.Fatalf("StartReleaseDate: %v", err)
	}
	mustContain(t, f.msg.last().Text, "Введи дату релиза")
	if f.flow(t).Name != domain.FlowReleaseDate {
		t.Fatal("ожидали диалог ввода даты")
	}

	f.send(t, "31.02.2026")
	mustContain(t, f.msg.last().Text, "Попробуй ещё раз")
	if len(dates.raw) != 0 {
		t.Fatal("неверная дата не сохраняется")
	}

	f.send(t, "5.3.2026")
	if len(dates.raw) != 1 || dates.raw[0] != "5.3.2026" {
		t.Fatalf("ожидали сохранение даты, получили %v", dates.raw)
	}
	mustContain(t, f.msg.last().Text, "Ок. Дата релиза")
	if _, err := f.flows.GetFlow(ctx, userID); !errors.Is(err, domain.ErrFlowNotFound) {
		t.Fatal("после сохранения диалог закрыт")
	}
}

func TestReleaseDateFormRequiresSetter(t *testing.T) {
	f := newFixture()
	if err := f.svc.StartReleaseDate(context.Background(), userID, userID); err == nil {
		t.Fatal("без сервиса таймлайна форма не начинается")
	}
}
