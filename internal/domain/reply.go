package domain

// Button описывает кнопку под сообщением: либо ссылку, либо callback.
type Button struct {
	Text string
	URL  string
	Data string
}

// Keyboard — ряды кнопок.
type Keyboard [][]Button

// Row собирает ряд кнопок.
func Row(buttons ...Button) []Button {
	return buttons
}

// DataButton создаёт callback-кнопку.
func DataButton(text, data string) Button {
	return Button{Text: text, Data: data}
}

// URLButton создаёт кнопку-ссылку.
func URLButton(text, url string) Button {
	return Button{Text: text, URL: url}
}

// Reply описывает исходящее сообщение, не привязанное к транспорту.
type Reply struct {
	Text        string
	HTML        bool
	PhotoFileID string
	Keyboard    Keyboard
}

// TextReply создаёт простое текстовое сообщение.
func TextReply(text string) Reply {
	return Reply{Text: text}
}
