package notifications

// Op names a server-side bulk mutation over a set of notification ids.
type Op string

const (
	OpMarkRead        Op = "mark-read"
	OpMarkUnread      Op = "mark-unread"
	OpMarkImportant   Op = "mark-important"
	OpMarkUnimportant Op = "mark-unimportant"
	OpDelete          Op = "delete"
)

// Valid reports whether op is one of the defined mutations.
func (op Op) Valid() bool {
	switch op {
	case OpMarkRead, OpMarkUnread, OpMarkImportant, OpMarkUnimportant, OpDelete:
		return true
	}
	return false
}
