package slack

// Message is a single entry from conversations.history. Only the fields the
// tracker consumes are mapped.
type Message struct {
	Type        string       `json:"type"`
	Subtype     string       `json:"subtype,omitempty"`
	User        string       `json:"user,omitempty"`
	BotID       string       `json:"bot_id,omitempty"`
	Text        string       `json:"text"`
	TS          string       `json:"ts"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a legacy-style message attachment (Jenkins notifications use
// these).
type Attachment struct {
	Fallback string  `json:"fallback"`
	Color    string  `json:"color,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
}

// Field is one titled value inside an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Channel is a conversation the bot can read.
type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsMember bool   `json:"is_member"`
}

// Identity is the workspace identity returned by auth.test.
type Identity struct {
	User   string `json:"user"`
	UserID string `json:"user_id"`
	Team   string `json:"team"`
	TeamID string `json:"team_id"`
}
