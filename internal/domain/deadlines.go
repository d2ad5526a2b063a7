package domain

import (
	"sort"
	"time"
)

// Deadline описывает этап подготовки релиза относительно даты выхода.
type Deadline struct {
	Key    string
	Title  string
	Offset int
}

// Deadlines содержит фиксированный план подготовки релиза.
var Deadlines = []Deadline{
	{Key: "pitching", Title: "Pitching (Spotify / Яндекс / VK / Звук / МТС-КИОН)", Offset: -14},
	{Key: "presave", Title: "Pre-save", Offset: -7},
	{Key: "bandlink", Title: "BandLink / Smartlink", Offset: -7},
	{Key: "content_sprint", Title: "Контент-спринт ДО — старт", Offset: -14},
	{Key: "post_1", Title: "Пост-релиз план (+1)", Offset: 1},
	{Key: "post_3", Title: "Пост-релиз план (+3)", Offset: 3},
	{Key: "post_7", Title: "Пост-релиз план (+7)", Offset: 7},
}

// DatedDeadline содержит дедлайн с вычисленной датой.
type DatedDeadline struct {
	Deadline
	Date time.Time
}

// BuildDeadlines возвращает дедлайны релиза, отсортированные по дате.
func BuildDeadlines(release time.Time) []DatedDeadline {
	release = DateOnly(release)
	out := make([]DatedDeadline, 0, len(Deadlines))
	for _, d := range Deadlines {
		out = append(out, DatedDeadline{Deadline: d, Date: release.AddDate(0, 0, d.Offset)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// DeadlineTrigger описывает момент отправки напоминания о дедлайне.
type DeadlineTrigger struct {
	When       string
	DaysBefore int
	Prefix     string
}

// DeadlineTriggers: за два дня и в сам день дедлайна.
var DeadlineTriggers = []DeadlineTrigger{
	{When: "pre2", DaysBefore: 2, Prefix: "⏳ Через 2 дня дедлайн: "},
	{When: "day0", DaysBefore: 0, Prefix: "🚨 Сегодня дедлайн: "},
}
