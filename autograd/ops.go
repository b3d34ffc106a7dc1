package autograd

import "math"

func (v Value) unary(data, local float64) Value {
	return v.g.push(node{
		value:    data,
		local:    [2]float64{local},
		children: [2]int32{v.id},
		arity:    1,
	})
}

func (v Value) binary(other Value, data, dv, dother float64) Value {
	if v.g != other.g {
		panic("autograd: operands belong to different graphs")
	}
	return v.g.push(node{
		value:    data,
		local:    [2]float64{dv, dother},
		children: [2]int32{v.id, other.id},
		arity:    2,
	})
}

// Add creates node z = x + y.
// dz/dx = 1, dz/dy = 1
func (v Value) Add(other Value) Value {
	x, y := v.Data(), other.Data()
	return v.binary(other, x+y, 1, 1)
}

// Sub creates node z = x - y.
// dz/dx = 1, dz/dy = -1
func (v Value) Sub(other Value) Value {
	x, y := v.Data(), other.Data()
	return v.binary(other, x-y, 1, -1)
}

// Mul creates node z = x * y.
// dz/dx = y, dz/dy = x
func (v Value) Mul(other Value) Value {
	x, y := v.Data(), other.Data()
	return v.binary(other, x*y, y, x)
}

// Div creates node z = x / y.
// dz/dx = 1/y, dz/dy = -x/y^2
//
// Division by zero follows IEEE-754: the value and local grads become ±Inf or NaN.
func (v Value) Div(other Value) Value {
	x, y := v.Data(), other.Data()
	return v.binary(other, x/y, 1/y, -x/(y*y))
}

// Pow creates node z = x^p for a constant exponent p.
// dz/dx = p * x^(p-1)
//
// A negative base with a non-integer exponent yields NaN, which then flows
// through the graph like any other value.
func (v Value) Pow(p float64) Value {
	x := v.Data()
	local := 0.0
	if p != 0 {
		local = p * math.Pow(x, p-1)
	}
	return v.unary(math.Pow(x, p), local)
}

// Exp creates node z = e^x.
// dz/dx = e^x
func (v Value) Exp() Value {
	e := math.Exp(v.Data())
	return v.unary(e, e)
}

// Relu creates node z = max(0, x).
// dz/dx = 1 when x > 0, otherwise 0 (including x == 0).
// A NaN input stays NaN, with a NaN local gradient.
func (v Value) Relu() Value {
	x := v.Data()
	switch {
	case math.IsNaN(x):
		return v.unary(x, x)
	case x > 0:
		return v.unary(x, 1)
	}
	return v.unary(0, 0)
}

// Log creates node z = ln(x).
// dz/dx = 1/x
func (v Value) Log() Value {
	x := v.Data()
	return v.unary(math.Log(x), 1/x)
}

// Neg creates node z = -x.
func (v Value) Neg() Value {
	return v.unary(-v.Data(), -1)
}
