package hubconn

import (
	"context"

	"go-hub-tunnel/internal/infrastructure/codec"
)

func arg[T any](method string, args codec.Args, i int) (T, error) {
	v, err := codec.Arg[T](args, i)
	if err != nil {
		return v, &DecodeError{Method: method, Index: i, Err: err}
	}
	return v, nil
}

// On0 registers fn for events of method that carry no arguments. Like every
// OnN, it only receives events with exactly N arguments. Events of another
// arity are dropped with a warning and never reach fn; an argument that does
// not decode into its type fails the dispatch with a DecodeError.
func On0(c *Connection, method string, fn func(ctx context.Context) error) (func(), error) {
	return c.On(method, 0, func(ctx context.Context, _ codec.Args) error {
		return fn(ctx)
	})
}

// On1 registers fn for events of method with one argument decoded as T1.
func On1[T1 any](c *Connection, method string, fn func(context.Context, T1) error) (func(), error) {
	return c.On(method, 1, func(ctx context.Context, args codec.Args) error {
		a1, err := arg[T1](method, args, 0)
		if err != nil {
			return err
		}
		return fn(ctx, a1)
	})
}

// On2 registers fn for events of method with two arguments.
func On2[T1, T2 any](c *Connection, method string, fn func(context.Context, T1, T2) error) (func(), error) {
	return c.On(method, 2, func(ctx context.Context, args codec.Args) error {
		a1, err := arg[T1](method, args, 0)
		if err != nil {
			return err
		}
		a2, err := arg[T2](method, args, 1)
		if err != nil {
			return err
		}
		return fn(ctx, a1, a2)
	})
}

// On3 registers fn for events of method with three arguments.
func On3[T1, T2, T3 any](c *Connection, method string, fn func(context.Context, T1, T2, T3) error) (func(), error) {
	return c.On(method, 3, func(ctx context.Context, args codec.Args) error {
		a1, err := arg[T1](method, args, 0)
		if err != nil {
			return err
		}
		a2, err := arg[T2](method, args, 1)
		if err != nil {
			return err
		}
		a3, err := arg[T3](method, args, 2)
		if err != nil {
			return err
		}
		return fn(ctx, a1, a2, a3)
	})
}

// On4 registers fn for events of method with four arguments.
func On4[T1, T2, T3, T4 any](c *Connection, method string, fn func(context.Context, T1, T2, T3, T4) error) (func(), error) {
	return c.On(method, 4, func(ctx context.Context, args codec.Args) error {
		a1, err := arg[T1](method, args, 0)
		if err != nil {
			return err
		}
		a2, err := arg[T2](method, args, 1)
		if err != nil {
			return err
		}
		a3, err := arg[T3](method, args, 2)
		if err != nil {
			return err
		}
		a4, err := arg[T4](method, args, 3)
		if err != nil {
			return err
		}
		return fn(ctx, a1, a2, a3, a4)
	})
}

// On5 registers fn for events of method with five arguments.
func On5[T1, T2, T3, T4, T5 any](c *Connection, method string, fn func(context.Context, T1, T2, T3, T4, T5) error) (func(), error) {
	return c.On(method, 5, func(ctx context.Context, args codec.Args) error {
		a1, err := arg[T1](method, args, 0)
		if err != nil {
			return err
		}
		a2, err := arg[T2](method, args, 1)
		if err != nil {
			return err
		}
		a3, err := arg[T3](method, args, 2)
		if err != nil {
			return err
		}
		a4, err := arg[T4](method, args, 3)
		if err != nil {
			return err
		}
		a5, err := arg[T5](method, args, 4)
		if err != nil {
			return err
		}
		return fn(ctx, a1, a2, a3, a4, a5)
	})
}

// On6 registers fn for events of method with six arguments.
func On6[T1, T2, T3, T4, T5, T6 any](c *Connection, method string, fn func(context.Context, T1, T2, T3, T4, T5, T6) error) (func(), error) {
	return c.On(method, 6, func(ctx context.Context, args codec.Args) error {
		a1, err := arg[T1](method, args, 0)
		if err != nil {
			return err
		}
		a2, err := arg[T2](method, args, 1)
		if err != nil {
			return err
		}
		a3, err := arg[T3](method, args, 2)
		if err != nil {
			return err
		}
		a4, err := arg[T4](method, args, 3)
		if err != nil {
			return err
		}
		a5, err := arg[T5](method, args, 4)
		if err != nil {
			return err
		}
		a6, err := arg[T6](method, args, 5)
		if err != nil {
			return err
		}
		return fn(ctx, a1, a2, a3, a4, a5, a6)
	})
}

// OnArgs registers a handler taking any number of arguments of one type.
func OnArgs[T any](c *Connection, method string, fn func(context.Context, ...T) error) (func(), error) {
	return c.On(method, -1, func(ctx context.Context, args codec.Args) error {
		values := make([]T, len(args))
		for i := range args {
			v, err := arg[T](method, args, i)
			if err != nil {
				return err
			}
			values[i] = v
		}
		return fn(ctx, values...)
	})
}
