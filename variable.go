package sngan_go

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Role Owner of variable: each trainable variable is trained either by discriminator's optimizer or by generator's one.
type Role uint16

const (
	RoleUnknown = Role(iota)
	RoleDiscriminator
	RoleGenerator
)

const (
	discriminatorPrefix = "d_"
	generatorPrefix     = "g_"
	diagnosticMarker    = "sigma_ratio"
)

func (r Role) String() string {
	switch r {
	case RoleDiscriminator:
		return "discriminator"
	case RoleGenerator:
		return "generator"
	default:
		return "unknown"
	}
}

func (r Role) prefix() string {
	switch r {
	case RoleDiscriminator:
		return discriminatorPrefix
	case RoleGenerator:
		return generatorPrefix
	default:
		return ""
	}
}

// RoleFromName Resolves role by naming convention ("d_" or "g_" prefix). Any other name is a configuration error.
func RoleFromName(name string) (Role, error) {
	isD := strings.HasPrefix(name, discriminatorPrefix)
	isG := strings.HasPrefix(name, generatorPrefix)
	switch {
	case isD && !isG:
		return RoleDiscriminator, nil
	case isG && !isD:
		return RoleGenerator, nil
	default:
		return RoleUnknown, configErrorf("variable '%s' matches neither '%s' nor '%s' naming convention", name, discriminatorPrefix, generatorPrefix)
	}
}

// Variable Named value tagged with its role at creation time. Value is shared by every graph node bound to variable.
//
// Name - name inside scope (without scope prefix)
// Role - who trains this variable
// Trainable - whether variable belongs to trainable set (power iteration vectors do not)
// Diagnostic - monitoring-only variable (sigma ratios). It stays in its role's subset, but never gets a gradient
// Device - device where variable is stored
//
type Variable struct {
	Name       string
	Role       Role
	Trainable  bool
	Diagnostic bool
	Device     Device

	value gorgonia.Value
	nodes map[bindingKey]*gorgonia.Node
}

// bindingKey Graph and node name prefix of single binding
type bindingKey struct {
	graph  *gorgonia.ExprGraph
	prefix string
}

// Value Returns shared value of variable
func (v *Variable) Value() gorgonia.Value {
	return v.value
}

// Shape Returns shape of variable
func (v *Variable) Shape() tensor.Shape {
	if v.value == nil {
		return nil
	}
	return v.value.Shape()
}

// Floats Returns copy of current variable value as flat slice
func (v *Variable) Floats() ([]float64, error) {
	return valueToFloats(v.value)
}

// Assign Copies data into variable's value in place, so every bound node sees it
func (v *Variable) Assign(data []float64) error {
	switch t := v.value.(type) {
	case *tensor.Dense:
		backing, ok := t.Data().([]float64)
		if !ok {
			return errors.Errorf("variable '%s' has dtype %v", v.Name, t.Dtype())
		}
		if len(backing) != len(data) {
			return errors.Errorf("variable '%s' has %d values, but %d are provided", v.Name, len(backing), len(data))
		}
		copy(backing, data)
	case *gorgonia.F64:
		if len(data) != 1 {
			return errors.Errorf("variable '%s' is scalar, but %d values are provided", v.Name, len(data))
		}
		*t = gorgonia.F64(data[0])
	default:
		return errors.Errorf("variable '%s' holds unsupported value %T", v.Name, v.value)
	}
	return nil
}

// Node Returns node of variable on graph g bound under given prefix
func (v *Variable) Node(g *gorgonia.ExprGraph, prefix string) (*gorgonia.Node, bool) {
	n, ok := v.nodes[bindingKey{graph: g, prefix: prefix}]
	return n, ok
}

// Bindings Returns number of graph nodes sharing value of variable
func (v *Variable) Bindings() int {
	return len(v.nodes)
}

// VariableSpec Description of variable requested from scope
//
// Init - initializer of tensor variables (zeroes when nil)
// Value - initial value: float64 for scalars or *tensor.Dense with the same shape. Takes precedence over Init
//
type VariableSpec struct {
	Name         string
	Role         Role
	Shape        tensor.Shape
	Init         gorgonia.InitWFn
	Value        interface{}
	NonTrainable bool
}

// newValue Allocates initial value described by spec
func newValue(spec VariableSpec) (gorgonia.Value, error) {
	shp := spec.Shape
	if spec.Value != nil {
		switch val := spec.Value.(type) {
		case float64:
			if !shp.IsScalar() {
				return nil, errors.Errorf("scalar value for shape %v", shp)
			}
			return gorgonia.NewF64(val), nil
		case *tensor.Dense:
			if !val.Shape().Eq(shp) {
				return nil, errors.Errorf("value has shape %v, but %v is requested", val.Shape(), shp)
			}
			if val.Dtype() != tensor.Float64 {
				return nil, errors.Errorf("value has dtype %v, but %v is expected", val.Dtype(), tensor.Float64)
			}
			return val, nil
		default:
			return nil, errors.Errorf("unsupported value type %T", spec.Value)
		}
	}
	if shp.IsScalar() {
		return gorgonia.NewF64(0), nil
	}
	init := spec.Init
	if init == nil {
		init = gorgonia.Zeroes()
	}
	return tensor.New(tensor.WithShape(shp.Clone()...), tensor.WithBacking(init(tensor.Float64, shp...))), nil
}

// VariableScope Registry of variables shared between replicas and graphs.
// Variables are written once (by replica #0) and read by every replica after that. Each (graph, prefix) binding gets
// its own input node for a variable, all of them backed by the same value.
type VariableScope struct {
	name    string
	storage Device
	reuse   bool
	vars    map[string]*Variable
	order   []*Variable

	graph  *gorgonia.ExprGraph
	prefix string
}

// NewVariableScope Creates empty scope bound to given graph without node name prefix
func NewVariableScope(g *gorgonia.ExprGraph, name string) *VariableScope {
	return &VariableScope{
		name:  name,
		graph: g,
		vars:  make(map[string]*Variable),
	}
}

// Bind Makes variables requested after this call appear on graph g with node names prefixed by prefix
func (s *VariableScope) Bind(g *gorgonia.ExprGraph, prefix string) {
	s.graph = g
	s.prefix = prefix
}

// Graph Returns graph where requested variables are bound
func (s *VariableScope) Graph() *gorgonia.ExprGraph {
	return s.graph
}

// Prefix Returns node name prefix of current binding
func (s *VariableScope) Prefix() string {
	return s.prefix
}

// Name Returns scope name
func (s *VariableScope) Name() string {
	return s.name
}

// ReuseVariables Switches scope to reuse mode: no variable could be created after this call
func (s *VariableScope) ReuseVariables() {
	s.reuse = true
}

// Reusing Returns true if scope is in reuse mode
func (s *VariableScope) Reusing() bool {
	return s.reuse
}

// SetStorage Sets device for variables created after this call
func (s *VariableScope) SetStorage(d Device) {
	s.storage = d
}

// Len Returns number of variables in scope
func (s *VariableScope) Len() int {
	return len(s.order)
}

// Lookup Returns variable by name
func (s *VariableScope) Lookup(name string) (*Variable, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Variables Returns all variables in creation order
func (s *VariableScope) Variables() []*Variable {
	ret := make([]*Variable, len(s.order))
	copy(ret, s.order)
	return ret
}

// TrainableVariables Returns trainable variables in creation order
func (s *VariableScope) TrainableVariables() []*Variable {
	ret := make([]*Variable, 0, len(s.order))
	for _, v := range s.order {
		if v.Trainable {
			ret = append(ret, v)
		}
	}
	return ret
}

// GetVariable Creates variable (reuse == false) or returns existing one (reuse == true) together with its node on the
// current binding. Scope in reuse mode behaves as if reuse == true.
func (s *VariableScope) GetVariable(spec VariableSpec, reuse bool) (*Variable, *gorgonia.Node, error) {
	if s.graph == nil {
		return nil, nil, invariantErrorf("scope '%s' is not bound to graph", s.name)
	}
	reuse = reuse || s.reuse
	existing, exists := s.vars[spec.Name]
	if reuse {
		if !exists {
			return nil, nil, invariantErrorf("variable '%s/%s' does not exist, but reuse is requested", s.name, spec.Name)
		}
		if !existing.Shape().Eq(spec.Shape) {
			return nil, nil, invariantErrorf("variable '%s/%s' has shape %v, but %v is requested", s.name, spec.Name, existing.Shape(), spec.Shape)
		}
		if existing.Role != spec.Role {
			return nil, nil, invariantErrorf("variable '%s/%s' has role %s, but %s is requested", s.name, spec.Name, existing.Role, spec.Role)
		}
		return existing, s.bind(existing), nil
	}
	if exists {
		return nil, nil, invariantErrorf("variable '%s/%s' already exists. Did you mean to set reuse?", s.name, spec.Name)
	}
	if spec.Role == RoleUnknown {
		return nil, nil, configErrorf("variable '%s' has no role", spec.Name)
	}
	if !strings.HasPrefix(spec.Name, spec.Role.prefix()) {
		return nil, nil, configErrorf("%s variable '%s' must be prefixed with '%s'", spec.Role, spec.Name, spec.Role.prefix())
	}
	value, err := newValue(spec)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "Can't initialize '%s/%s'", s.name, spec.Name)
	}
	v := &Variable{
		Name:       spec.Name,
		Role:       spec.Role,
		Trainable:  !spec.NonTrainable,
		Diagnostic: strings.Contains(spec.Name, diagnosticMarker),
		Device:     s.storage,
		value:      value,
	}
	s.vars[spec.Name] = v
	s.order = append(s.order, v)
	return v, s.bind(v), nil
}

// bind Returns node of variable on current binding, creating it on first request
func (s *VariableScope) bind(v *Variable) *gorgonia.Node {
	key := bindingKey{graph: s.graph, prefix: s.prefix}
	if n, ok := v.nodes[key]; ok {
		return n
	}
	name := s.prefix + s.fullName(v.Name)
	shp := v.Shape()
	var n *gorgonia.Node
	switch len(shp) {
	case 0:
		n = gorgonia.NewScalar(s.graph, gorgonia.Float64, gorgonia.WithName(name), gorgonia.WithValue(v.value))
	case 2:
		n = gorgonia.NewMatrix(s.graph, gorgonia.Float64, gorgonia.WithName(name), gorgonia.WithShape(shp...), gorgonia.WithValue(v.value))
	default:
		n = gorgonia.NewTensor(s.graph, gorgonia.Float64, len(shp), gorgonia.WithName(name), gorgonia.WithShape(shp...), gorgonia.WithValue(v.value))
	}
	if v.nodes == nil {
		v.nodes = make(map[bindingKey]*gorgonia.Node)
	}
	v.nodes[key] = n
	return n
}

func (s *VariableScope) fullName(name string) string {
	if s.name == "" {
		return name
	}
	return fmt.Sprintf("%s/%s", s.name, name)
}

// VariablePartition Disjoint split of trainable variables
//
// Discriminator - variables trained by discriminator's optimizer
// Generator - variables trained by generator's optimizer
// Diagnostic - monitoring-only variables (they are still members of Discriminator or Generator)
// All - every trainable variable
//
type VariablePartition struct {
	Discriminator []*Variable
	Generator     []*Variable
	Diagnostic    []*Variable
	All           []*Variable
}

// PartitionVariables Splits variables by their role tags. Tag and naming convention must agree.
func PartitionVariables(vars []*Variable) (VariablePartition, error) {
	p := VariablePartition{
		All: make([]*Variable, 0, len(vars)),
	}
	for _, v := range vars {
		role, err := RoleFromName(v.Name)
		if err != nil {
			return VariablePartition{}, err
		}
		if role != v.Role {
			return VariablePartition{}, configErrorf("variable '%s' is tagged as %s, but named as %s", v.Name, v.Role, role)
		}
		switch v.Role {
		case RoleDiscriminator:
			p.Discriminator = append(p.Discriminator, v)
		case RoleGenerator:
			p.Generator = append(p.Generator, v)
		}
		if v.Diagnostic {
			p.Diagnostic = append(p.Diagnostic, v)
		}
		p.All = append(p.All, v)
	}
	return p, nil
}

// PartitionNames Splits raw variable names by naming convention
func PartitionNames(names []string) (dNames, gNames []string, err error) {
	for _, name := range names {
		role, err := RoleFromName(name)
		if err != nil {
			return nil, nil, err
		}
		if role == RoleDiscriminator {
			dNames = append(dNames, name)
		} else {
			gNames = append(gNames, name)
		}
	}
	return dNames, gNames, nil
}
