package sngan_go

import (
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestRoleFromName(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		wantErr bool
	}{
		{"d_fc0_w", RoleDiscriminator, false},
		{"d_out_sigma_ratio", RoleDiscriminator, false},
		{"g_out_b", RoleGenerator, false},
		{"fc0_w", RoleUnknown, true},
		{"dg_w", RoleUnknown, true},
		{"", RoleUnknown, true},
	}
	for _, tt := range tests {
		role, err := RoleFromName(tt.name)
		if tt.wantErr {
			if !IsConfigurationError(err) {
				t.Errorf("'%s': expected configuration error, got %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("'%s': unexpected error %v", tt.name, err)
		}
		if role != tt.role {
			t.Errorf("'%s': expected %s, got %s", tt.name, tt.role, role)
		}
	}
}

func TestVariableScopeReuse(t *testing.T) {
	g := gorgonia.NewGraph()
	scope := NewVariableScope(g, "model")
	scope.SetStorage(Device{Kind: DeviceGPU, Index: 0})
	spec := VariableSpec{Name: "d_w", Role: RoleDiscriminator, Shape: tensor.Shape{2, 3}, Init: gorgonia.GlorotN(1.0)}

	created, node, err := scope.GetVariable(spec, false)
	if err != nil {
		t.Fatalf("Can't create variable: %v", err)
	}
	if node.Name() != "model/d_w" {
		t.Errorf("expected node name 'model/d_w', got '%s'", node.Name())
	}
	if created.Device != (Device{Kind: DeviceGPU, Index: 0}) {
		t.Errorf("variable must be stored on /gpu:0, but got %s", created.Device)
	}

	if _, _, err := scope.GetVariable(spec, false); !IsInvariantViolation(err) {
		t.Errorf("creating existing variable must be invariant violation, got %v", err)
	}

	reused, reusedNode, err := scope.GetVariable(spec, true)
	if err != nil {
		t.Fatalf("Can't reuse variable: %v", err)
	}
	if reused != created || reusedNode != node {
		t.Errorf("reuse on the same binding must return the same variable and node")
	}

	if _, _, err := scope.GetVariable(VariableSpec{Name: "d_missing", Role: RoleDiscriminator, Shape: tensor.Shape{1, 1}}, true); !IsInvariantViolation(err) {
		t.Errorf("reusing missing variable must be invariant violation, got %v", err)
	}
	if _, _, err := scope.GetVariable(VariableSpec{Name: "d_w", Role: RoleDiscriminator, Shape: tensor.Shape{3, 2}}, true); !IsInvariantViolation(err) {
		t.Errorf("reusing with different shape must be invariant violation, got %v", err)
	}

	scope.ReuseVariables()
	if !scope.Reusing() {
		t.Errorf("scope must be in reuse mode")
	}
	if _, _, err := scope.GetVariable(VariableSpec{Name: "d_new", Role: RoleDiscriminator, Shape: tensor.Shape{1, 1}}, false); !IsInvariantViolation(err) {
		t.Errorf("scope in reuse mode must not create variables, got %v", err)
	}
	if scope.Len() != 1 {
		t.Errorf("expected 1 variable, got %d", scope.Len())
	}
}

func TestVariableScopeInitialization(t *testing.T) {
	g := gorgonia.NewGraph()
	scope := NewVariableScope(g, "model")

	w, node, err := scope.GetVariable(VariableSpec{Name: "d_w", Role: RoleDiscriminator, Shape: tensor.Shape{2, 3}, Init: gorgonia.GlorotN(1.0)}, false)
	if err != nil {
		t.Fatalf("Can't create Glorot initialized variable: %v", err)
	}
	if !w.Shape().Eq(tensor.Shape{2, 3}) || !node.Shape().Eq(tensor.Shape{2, 3}) {
		t.Fatalf("expected shape (2, 3), got %v (node %v)", w.Shape(), node.Shape())
	}
	data := mustFloats(t, node.Value())
	if len(data) != 6 {
		t.Fatalf("expected 6 values, got %d", len(data))
	}
	nonZero := 0
	for _, x := range data {
		if x != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Errorf("Glorot initialized weights must not be all zeroes: %v", data)
	}

	b, _, err := scope.GetVariable(VariableSpec{Name: "d_b", Role: RoleDiscriminator, Shape: tensor.Shape{1, 4}}, false)
	if err != nil {
		t.Fatalf("Can't create zero initialized variable: %v", err)
	}
	for _, x := range mustFloats(t, b.Value()) {
		if x != 0 {
			t.Fatalf("variable without initializer must be zeroes, got %v", b.Value())
		}
	}

	wrong := tensor.New(tensor.WithShape(3, 2), tensor.WithBacking(make([]float64, 6)))
	if _, _, err := scope.GetVariable(VariableSpec{Name: "d_v", Role: RoleDiscriminator, Shape: tensor.Shape{2, 3}, Value: wrong}, false); err == nil {
		t.Errorf("initial value of different shape must fail")
	}
}

func TestVariableScopeBindings(t *testing.T) {
	first := gorgonia.NewGraph()
	second := gorgonia.NewGraph()
	scope := NewVariableScope(first, "model")
	scope.Bind(first, "tower_0/")
	w, node0, err := scope.GetVariable(VariableSpec{Name: "g_w", Role: RoleGenerator, Shape: tensor.Shape{2, 2}, Init: gorgonia.GlorotN(1.0)}, false)
	if err != nil {
		t.Fatal(err)
	}
	if node0.Name() != "tower_0/model/g_w" {
		t.Errorf("expected node name 'tower_0/model/g_w', got '%s'", node0.Name())
	}

	scope.Bind(first, "tower_1/")
	_, node1, err := scope.GetVariable(VariableSpec{Name: "g_w", Role: RoleGenerator, Shape: tensor.Shape{2, 2}}, true)
	if err != nil {
		t.Fatal(err)
	}
	scope.Bind(second, "tower_0/")
	_, node2, err := scope.GetVariable(VariableSpec{Name: "g_w", Role: RoleGenerator, Shape: tensor.Shape{2, 2}}, true)
	if err != nil {
		t.Fatal(err)
	}
	if node0 == node1 || node0 == node2 || node1 == node2 {
		t.Fatalf("every binding must get its own node")
	}
	if node2.Graph() != second {
		t.Errorf("node must live on bound graph")
	}
	if w.Bindings() != 3 || scope.Len() != 1 {
		t.Errorf("expected 1 variable with 3 bindings, got %d variables and %d bindings", scope.Len(), w.Bindings())
	}
	if got, ok := w.Node(first, "tower_1/"); !ok || got != node1 {
		t.Errorf("binding lookup must return node of tower_1")
	}

	if err := w.Assign([]float64{1, 2, 3, 4}); err != nil {
		t.Fatalf("Can't assign: %v", err)
	}
	for _, n := range []*gorgonia.Node{node0, node1, node2} {
		if got := mustFloats(t, n.Value()); got[3] != 4 {
			t.Errorf("node '%s' must see assigned value, got %v", n.Name(), got)
		}
	}
	if err := w.Assign([]float64{1}); err == nil {
		t.Errorf("assigning wrong number of values must fail")
	}

	ratio, ratioNode, err := scope.GetVariable(VariableSpec{Name: "g_sigma_ratio", Role: RoleGenerator, Shape: tensor.ScalarShape(), Value: 1.0}, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := ratio.Assign([]float64{0.5}); err != nil {
		t.Fatalf("Can't assign scalar: %v", err)
	}
	if got := mustScalar(t, ratioNode.Value()); got != 0.5 {
		t.Errorf("scalar node must see assigned value, got %v", got)
	}
}

func TestVariableScopeNaming(t *testing.T) {
	g := gorgonia.NewGraph()
	scope := NewVariableScope(g, "")
	if _, _, err := scope.GetVariable(VariableSpec{Name: "g_w", Role: RoleDiscriminator, Shape: tensor.Shape{1, 1}}, false); !IsConfigurationError(err) {
		t.Errorf("prefix contradicting role must be configuration error, got %v", err)
	}
	if _, _, err := scope.GetVariable(VariableSpec{Name: "w", Shape: tensor.Shape{1, 1}}, false); !IsConfigurationError(err) {
		t.Errorf("variable without role must be configuration error, got %v", err)
	}

	ratio, _, err := scope.GetVariable(VariableSpec{Name: "d_fc0_sigma_ratio", Role: RoleDiscriminator, Shape: tensor.ScalarShape(), Value: 1.0}, false)
	if err != nil {
		t.Fatalf("Can't create scalar variable: %v", err)
	}
	if !ratio.Diagnostic || !ratio.Trainable {
		t.Errorf("sigma ratio must be trainable diagnostic variable")
	}
	if got := mustScalar(t, ratio.Value()); got != 1 {
		t.Errorf("expected initial value 1, got %v", got)
	}
	u, _, err := scope.GetVariable(VariableSpec{Name: "d_fc0_u", Role: RoleDiscriminator, Shape: tensor.Shape{1, 4}, NonTrainable: true}, false)
	if err != nil {
		t.Fatalf("Can't create non-trainable variable: %v", err)
	}
	for _, v := range scope.TrainableVariables() {
		if v == u {
			t.Errorf("non-trainable variable must not be listed as trainable")
		}
	}
	if len(scope.Variables()) != 2 {
		t.Errorf("expected 2 variables, got %d", len(scope.Variables()))
	}
}

func TestPartitionVariables(t *testing.T) {
	g := gorgonia.NewGraph()
	scope := NewVariableScope(g, "model")
	specs := []VariableSpec{
		{Name: "d_fc0_w", Role: RoleDiscriminator, Shape: tensor.Shape{2, 2}},
		{Name: "d_fc0_sigma_ratio", Role: RoleDiscriminator, Shape: tensor.ScalarShape()},
		{Name: "g_fc0_w", Role: RoleGenerator, Shape: tensor.Shape{2, 2}},
		{Name: "g_fc0_b", Role: RoleGenerator, Shape: tensor.Shape{1, 2}},
	}
	for _, spec := range specs {
		if _, _, err := scope.GetVariable(spec, false); err != nil {
			t.Fatalf("Can't create '%s': %v", spec.Name, err)
		}
	}
	p, err := PartitionVariables(scope.TrainableVariables())
	if err != nil {
		t.Fatalf("Can't partition variables: %v", err)
	}
	if len(p.Discriminator) != 2 || len(p.Generator) != 2 || len(p.Diagnostic) != 1 || len(p.All) != 4 {
		t.Fatalf("unexpected partition sizes d=%d g=%d diag=%d all=%d", len(p.Discriminator), len(p.Generator), len(p.Diagnostic), len(p.All))
	}
	if p.Diagnostic[0].Name != "d_fc0_sigma_ratio" {
		t.Errorf("unexpected diagnostic variable '%s'", p.Diagnostic[0].Name)
	}

	mistagged := &Variable{Name: "g_w", Role: RoleDiscriminator, Trainable: true}
	if _, err := PartitionVariables([]*Variable{mistagged}); !IsConfigurationError(err) {
		t.Errorf("tag contradicting name must be configuration error, got %v", err)
	}
	unnamed := &Variable{Name: "beta", Role: RoleGenerator, Trainable: true}
	if _, err := PartitionVariables([]*Variable{unnamed}); !IsConfigurationError(err) {
		t.Errorf("name matching neither prefix must be configuration error, got %v", err)
	}
}

func TestPartitionNames(t *testing.T) {
	dNames, gNames, err := PartitionNames([]string{"d_a", "g_b", "d_c_sigma_ratio"})
	if err != nil {
		t.Fatalf("Can't partition names: %v", err)
	}
	if len(dNames) != 2 || len(gNames) != 1 {
		t.Errorf("expected 2 discriminator and 1 generator names, got %v and %v", dNames, gNames)
	}
	if _, _, err := PartitionNames([]string{"d_a", "moving_mean"}); !IsConfigurationError(err) {
		t.Errorf("name matching neither prefix must be configuration error, got %v", err)
	}
}
