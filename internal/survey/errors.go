package survey

import "errors"

// ErrNotFound is the typed not-found failure for unknown survey, question,
// respondent, or progress identifiers. Callers must never treat it as "no
// next question".
var ErrNotFound = errors.New("not found")
