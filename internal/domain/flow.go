package domain

import "time"

// FlowName задаёт тип активного диалога пользователя.
type FlowName string

const (
	FlowManualCreate FlowName = "manual_create"
	FlowImport       FlowName = "import"
	FlowImportReview FlowName = "import_review"
	FlowPrefillEdit  FlowName = "prefill_edit"
	FlowEditField    FlowName = "edit_field"
	FlowUPC          FlowName = "smartlink_upc"
	FlowReleaseDate  FlowName = "release_date"
)

// Flow описывает единственный активный диалог пользователя.
// Nonce меняется при каждом старте, по нему отбрасываются устаревшие записи.
type Flow struct {
	UserID    int64
	Name      FlowName
	Step      int
	Nonce     string
	Draft     FlowDraft
	UpdatedAt time.Time
}

// FlowDraft реализуют черновики конкретных типов диалога.
type FlowDraft interface {
	FlowName() FlowName
}

// CreateDraft хранит черновик ручного создания.
type CreateDraft struct {
	Artist      string     `json:"artist,omitempty"`
	Title       string     `json:"title,omitempty"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	CoverFileID string     `json:"cover_file_id,omitempty"`
	Caption     string     `json:"caption,omitempty"`
	Links       Links      `json:"links,omitempty"`
	Imported    bool       `json:"imported,omitempty"`
}

func (CreateDraft) FlowName() FlowName { return FlowManualCreate }

// ImportDraft хранит черновик импорта по ссылке.
type ImportDraft struct {
	Links             Links       `json:"links,omitempty"`
	Meta              MetadataBag `json:"meta"`
	LowLinksHintShown bool        `json:"low_links_hint_shown,omitempty"`
	FallbackShown     bool        `json:"fallback_shown,omitempty"`
}

func (ImportDraft) FlowName() FlowName { return FlowImport }

// PrefillField — поле, которое пользователь правит перед продолжением.
type PrefillField string

const (
	PrefillNone   PrefillField = ""
	PrefillArtist PrefillField = "artist"
	PrefillTitle  PrefillField = "title"
	PrefillCover  PrefillField = "cover"
)

// ReviewDraft хранит черновик подтверждения импорта и предзаполненной карточки.
type ReviewDraft struct {
	Links       Links        `json:"links,omitempty"`
	Meta        MetadataBag  `json:"meta"`
	Artist      string       `json:"artist,omitempty"`
	Title       string       `json:"title,omitempty"`
	CoverFileID string       `json:"cover_file_id,omitempty"`
	CoverURL    string       `json:"cover_url,omitempty"`
	ReleaseDate *time.Time   `json:"release_date,omitempty"`
	Caption     string       `json:"caption,omitempty"`
	Pending     PrefillField `json:"pending,omitempty"`
	Prefill     bool         `json:"prefill,omitempty"`
}

func (d ReviewDraft) FlowName() FlowName {
	if d.Prefill {
		return FlowPrefillEdit
	}
	return FlowImportReview
}

// EditTarget задаёт поле сохранённого смартлинка, которое редактируется.
type EditTarget string

const (
	EditTitle   EditTarget = "title"
	EditDate    EditTarget = "date"
	EditCaption EditTarget = "caption"
	EditCover   EditTarget = "cover"
	EditLink    EditTarget = "link"
)

// EditDraft хранит черновик правки одного поля.
type EditDraft struct {
	SmartlinkID int64      `json:"smartlink_id"`
	Page        int        `json:"page"`
	Target      EditTarget `json:"target"`
	Platform    Platform   `json:"platform,omitempty"`
	Artist      string     `json:"artist,omitempty"`
}

func (EditDraft) FlowName() FlowName { return FlowEditField }

// UPCCandidate — релиз, найденный в Spotify по UPC.
type UPCCandidate struct {
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	SpotifyURL string `json:"spotify_url"`
}

// UPCDraft хранит введённый UPC и найденные варианты.
// Шаг 0 ждёт номер, шаг 1 ждёт выбора варианта.
type UPCDraft struct {
	UPC        string         `json:"upc,omitempty"`
	Candidates []UPCCandidate `json:"candidates,omitempty"`
}

func (UPCDraft) FlowName() FlowName { return FlowUPC }

// ReleaseDateDraft — ввод даты релиза пользователя для таймлайна.
type ReleaseDateDraft struct{}

func (ReleaseDateDraft) FlowName() FlowName { return FlowReleaseDate }
