package assert

import "fmt"

// Assert panics with the formatted message when the condition doesn't hold.
// Used for internal invariants only, never for input validation.
func Assert(cond bool, format ...any) {
	if cond {
		return
	}

	if len(format) == 0 {
		panic("assertion failed")
	}

	f, ok := format[0].(string)
	if !ok {
		panic(fmt.Sprintf("assertion failed: %+v", format))
	}

	panic(fmt.Sprintf("assertion failed: "+f, format[1:]...))
}

func NoError(err error) {
	if err != nil {
		panic(fmt.Sprintf("unexpected error: %+v", err))
	}
}
