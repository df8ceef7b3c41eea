package optimize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// FloatParameter is a named bounded parameter stored elsewhere.
type FloatParameter interface {
	Name() string
	String() string
	SetMin(float64)
	SetMax(float64)
	GetMin() float64
	GetMax() float64
	SetOnChange(func())
	Get() float64
	Set(float64)
	InRange() bool
	ValueInRange(float64) bool
}

// FloatParameters is an ordered list of parameters.
type FloatParameters []FloatParameter

// Append adds a parameter to the list.
func (p *FloatParameters) Append(par FloatParameter) {
	*p = append(*p, par)
}

// Names returns parameter names, reusing is if it is not nil.
func (p *FloatParameters) Names(is []string) (s []string) {
	if is == nil {
		s = make([]string, len(*p))
	} else {
		s = is
	}
	for i, par := range *p {
		s[i] = par.Name()
	}
	return
}

// Values returns parameter values, reusing iv if it is not nil.
func (p *FloatParameters) Values(iv []float64) (v []float64) {
	if iv == nil {
		v = make([]float64, len(*p))
	} else {
		v = iv
	}
	for i, par := range *p {
		v[i] = par.Get()
	}
	return
}

// ValuesInRange checks vals against parameter bounds.
func (p *FloatParameters) ValuesInRange(vals []float64) bool {
	if len(vals) != len(*p) {
		return false
	}
	for i, par := range *p {
		if !par.ValueInRange(vals[i]) {
			return false
		}
	}
	return true
}

// SetValues sets all the parameters.
func (p *FloatParameters) SetValues(v []float64) error {
	if len(v) != len(*p) {
		return fmt.Errorf("incorrect number of parameters: %d, expected %d", len(v), len(*p))
	}
	for i, par := range *p {
		par.Set(v[i])
	}
	return nil
}

// ReadLine sets parameters from a trajectory line (iteration,
// likelihood and values).
func (p *FloatParameters) ReadLine(l string) error {
	v, err := ReadFloats(l)
	if err != nil {
		return err
	}
	if len(v) < 2 {
		return fmt.Errorf("trajectory line is too short: %q", l)
	}
	return p.SetValues(v[2:])
}

// InRange is true if all the parameters are within bounds.
func (p *FloatParameters) InRange() bool {
	for _, par := range *p {
		if !par.InRange() {
			return false
		}
	}
	return true
}

// NamesString returns tab separated names.
func (p *FloatParameters) NamesString() (s string) {
	for i, par := range *p {
		if i != 0 {
			s += "\t"
		}
		s += par.Name()
	}
	return
}

// ValuesString returns tab separated values.
func (p *FloatParameters) ValuesString() (s string) {
	for i, par := range *p {
		if i != 0 {
			s += "\t"
		}
		s += par.String()
	}
	return
}

// Map returns parameter values by name.
func (p FloatParameters) Map() map[string]float64 {
	m := make(map[string]float64, len(p))
	for _, par := range p {
		m[par.Name()] = par.Get()
	}
	return m
}

// SetMap sets parameter values by name. Every parameter must be
// present in m.
func (p FloatParameters) SetMap(m map[string]float64) error {
	for _, par := range p {
		if _, ok := m[par.Name()]; !ok {
			return fmt.Errorf("no value for parameter %s", par.Name())
		}
	}
	for _, par := range p {
		par.Set(m[par.Name()])
	}
	return nil
}

// MarshalJSON encodes parameters as an object keeping their order.
func (p FloatParameters) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, par := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		name, err := json.Marshal(par.Name())
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(par.Get())
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", par.Name(), err)
		}
		b.Write(name)
		b.WriteByte(':')
		b.Write(value)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON sets parameter values from an object produced by
// MarshalJSON.
func (p *FloatParameters) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	return p.SetMap(m)
}

// BasicFloatParameter is a FloatParameter backed by a pointer.
type BasicFloatParameter struct {
	*float64
	name     string
	min      float64
	max      float64
	onChange func()
}

// NewBasicFloatParameter creates an unbounded parameter.
func NewBasicFloatParameter(par *float64, name string) *BasicFloatParameter {
	return &BasicFloatParameter{
		float64: par,
		name:    name,
		min:     math.Inf(-1),
		max:     math.Inf(+1),
	}
}

// NewBoundedFloatParameter creates a parameter within [min, max].
func NewBoundedFloatParameter(par *float64, name string, min, max float64) *BasicFloatParameter {
	p := NewBasicFloatParameter(par, name)
	p.min = min
	p.max = max
	return p
}

func (p *BasicFloatParameter) SetMin(min float64) {
	p.min = min
}

func (p *BasicFloatParameter) SetMax(max float64) {
	p.max = max
}

// SetOnChange sets a function called after every value change.
func (p *BasicFloatParameter) SetOnChange(f func()) {
	p.onChange = f
}

func (p *BasicFloatParameter) Get() float64 {
	return *p.float64
}

func (p *BasicFloatParameter) Set(v float64) {
	if *p.float64 == v {
		return
	}
	*p.float64 = v
	if p.onChange != nil {
		p.onChange()
	}
}

func (p *BasicFloatParameter) GetMin() float64 {
	return p.min
}

func (p *BasicFloatParameter) GetMax() float64 {
	return p.max
}

func (p *BasicFloatParameter) ValueInRange(v float64) bool {
	return v >= p.min && v <= p.max
}

func (p *BasicFloatParameter) InRange() bool {
	return p.ValueInRange(*p.float64)
}

func (p *BasicFloatParameter) Name() string {
	return p.name
}

func (p *BasicFloatParameter) String() string {
	return strconv.FormatFloat(*p.float64, 'f', 6, 64)
}
