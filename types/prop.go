package types

import "strconv"

// Prop addresses a slot in an object: a Key in a map or an Index in a list or
// text object.
type Prop interface {
	isProp()
	String() string
}

type Key string

type Index int

func (Key) isProp()   {}
func (Index) isProp() {}

func (k Key) String() string   { return string(k) }
func (i Index) String() string { return strconv.Itoa(int(i)) }
