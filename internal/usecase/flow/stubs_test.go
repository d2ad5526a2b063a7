package flow

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smartlink-bot/internal/domain"
)

type memFlows struct {
	flows map[int64]domain.Flow
	saves int
}

func newMemFlows() *memFlows { return &memFlows{flows: map[int64]domain.Flow{}} }

func (m *memFlows) StartFlow(ctx context.Context, flow domain.Flow) error {
	m.flows[flow.UserID] = flow
	return nil
}

func (m *memFlows) GetFlow(ctx context.Context, userID int64) (domain.Flow, error) {
	f, ok := m.flows[userID]
	if !ok {
		return domain.Flow{}, domain.ErrFlowNotFound
	}
	return f, nil
}

func (m *memFlows) SaveFlow(ctx context.Context, flow domain.Flow) error {
	cur, ok := m.flows[flow.UserID]
	if !ok || cur.Nonce != flow.Nonce {
		return domain.ErrFlowStale
	}
	m.saves++
	m.flows[flow.UserID] = flow
	return nil
}

func (m *memFlows) ReplaceFlow(ctx context.Context, expectedNonce string, flow domain.Flow) error {
	cur, ok := m.flows[flow.UserID]
	if !ok || cur.Nonce != expectedNonce {
		return domain.ErrFlowStale
	}
	m.flows[flow.UserID] = flow
	return nil
}

func (m *memFlows) ClearFlow(ctx context.Context, userID int64) error {
	delete(m.flows, userID)
	return nil
}

type memSmartlinks struct {
	items  map[int64]domain.Smartlink
	nextID int64
}

func newMemSmartlinks() *memSmartlinks { return &memSmartlinks{items: map[int64]domain.Smartlink{}} }

func (m *memSmartlinks) CreateSmartlink(ctx context.Context, s domain.Smartlink) (domain.Smartlink, error) {
	m.nextID++
	s.ID = m.nextID
	m.items[s.ID] = s
	return s, nil
}

func (m *memSmartlinks) GetSmartlink(ctx context.Context, id int64) (domain.Smartlink, error) {
	s, ok := m.items[id]
	if !ok {
		return domain.Smartlink{}, domain.ErrSmartlinkNotFound
	}
	return s, nil
}

func (m *memSmartlinks) GetOwnedSmartlink(ctx context.Context, id, ownerID int64) (domain.Smartlink, error) {
	s, ok := m.items[id]
	if !ok || s.OwnerID != ownerID {
		return domain.Smartlink{}, domain.ErrSmartlinkNotFound
	}
	return s, nil
}

func (m *memSmartlinks) LatestSmartlink(ctx context.Context, ownerID int64) (domain.Smartlink, error) {
	var latest domain.Smartlink
	for _, s := range m.items {
		if s.OwnerID == ownerID && s.ID > latest.ID {
			latest = s
		}
	}
	if latest.ID == 0 {
		return domain.Smartlink{}, domain.ErrSmartlinkNotFound
	}
	return latest, nil
}

func (m *memSmartlinks) ListSmartlinks(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Smartlink, error) {
	return nil, nil
}

func (m *memSmartlinks) CountSmartlinks(ctx context.Context, ownerID int64) (int, error) {
	return len(m.items), nil
}

func (m *memSmartlinks) UpdateSmartlink(ctx context.Context, id, ownerID int64, p domain.SmartlinkPatch) (domain.Smartlink, error) {
	s, err := m.GetOwnedSmartlink(ctx, id, ownerID)
	if err != nil {
		return s, err
	}
	if p.Artist != nil {
		s.Artist = *p.Artist
	}
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.ReleaseDate != nil {
		d := *p.ReleaseDate
		s.ReleaseDate = &d
	}
	if p.ClearReleaseDate {
		s.ReleaseDate = nil
	}
	if p.Caption != nil {
		s.Caption = *p.Caption
	}
	if p.CoverFileID != nil {
		s.CoverFileID = *p.CoverFileID
	}
	s.Links = s.Links.Clone()
	for pl, u := range p.SetLinks {
		s.Links[pl] = u
	}
	for _, pl := range p.RemoveLinks {
		delete(s.Links, pl)
	}
	m.items[id] = s
	return s, nil
}

func (m *memSmartlinks) DeleteSmartlink(ctx context.Context, id, ownerID int64) error {
	delete(m.items, id)
	return nil
}

func (m *memSmartlinks) ListSmartlinksWithRelease(ctx context.Context) ([]domain.Smartlink, error) {
	return nil, nil
}

type stubResolver struct {
	results map[string]domain.Resolution
	calls   int
	during  func()
}

func (r *stubResolver) Resolve(ctx context.Context, rawURL string) domain.Resolution {
	r.calls++
	if r.during != nil {
		r.during()
	}
	return r.results[rawURL]
}

type stubCovers struct {
	calls  int
	during func()
}

func (c *stubCovers) HostCover(ctx context.Context, chatID int64, imageURL string) (string, error) {
	c.calls++
	if c.during != nil {
		c.during()
	}
	return "file-" + strconv.Itoa(c.calls), nil
}

type recMessenger struct {
	sent []domain.Reply
}

func (m *recMessenger) Send(ctx context.Context, chatID int64, reply domain.Reply) error {
	m.sent = append(m.sent, reply)
	return nil
}

func (m *recMessenger) last() domain.Reply {
	if len(m.sent) == 0 {
		return domain.Reply{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *recMessenger) count(substr string) int {
	n := 0
	for _, r := range m.sent {
		if strings.Contains(r.Text, substr) {
			n++
		}
	}
	return n
}

type recCards struct {
	sent []domain.Smartlink
}

func (c *recCards) SendCard(ctx context.Context, chatID, viewerID int64, s domain.Smartlink, page int) error {
	c.sent = append(c.sent, s)
	return nil
}

type fixture struct {
	svc      *Service
	flows    *memFlows
	links    *memSmartlinks
	resolver *stubResolver
	covers   *stubCovers
	msg      *recMessenger
	cards    *recCards
}

const userID int64 = 42

func newFixture() *fixture {
	f := &fixture{
		flows:    newMemFlows(),
		links:    newMemSmartlinks(),
		resolver: &stubResolver{results: map[string]domain.Resolution{}},
		covers:   &stubCovers{},
		msg:      &recMessenger{},
		cards:    &recCards{},
	}
	f.svc = NewService(f.flows, f.links, f.resolver, f.covers, f.msg, f.cards, zerolog.Nop())
	n := 0
	f.svc.newNonce = func() string {
		n++
		return "nonce-" + strconv.Itoa(n)
	}
	return f
}

func (f *fixture) send(t *testing.T, text string) {
	t.Helper()
	handled, err := f.svc.HandleMessage(context.Background(), Input{UserID: userID, ChatID: userID, Text: text})
	if err != nil {
		t.Fatalf("HandleMessage(%q): %v", text, err)
	}
	if !handled {
		t.Fatalf("HandleMessage(%q): сообщение не обработано диалогом", text)
	}
}

func (f *fixture) sendPhoto(t *testing.T, fileID string) {
	t.Helper()
	if _, err := f.svc.HandleMessage(context.Background(), Input{UserID: userID, ChatID: userID, PhotoFileID: fileID}); err != nil {
		t.Fatalf("HandleMessage(photo): %v", err)
	}
}

func (f *fixture) flow(t *testing.T) domain.Flow {
	t.Helper()
	fl, err := f.flows.GetFlow(context.Background(), userID)
	if err != nil {
		t.Fatalf("ожидали активный диалог: %v", err)
	}
	return fl
}

func mustContain(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("ожидали %q в %q", substr, s)
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
