package db

import "fmt"

// SequenceID returns a SQL expression that draws the next value of sequence
// and renders it as prefix followed by the value padded to at least three
// digits: LR001, LR999, LR1000.
func SequenceID(prefix, sequence string) string {
	return fmt.Sprintf(`'%s' || to_char(nextval('%s'), 'FM9999999999999999000')`, prefix, sequence)
}
