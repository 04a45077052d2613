package api

import (
	"context"
	"testing"
)

type stubActivity struct {
	Base
	name string
}

func (a *stubActivity) TypeName() string { return a.name }
func (a *stubActivity) GetPossibleOutcomes(wc *ExecutionContext, ac *ActivityContext) []Outcome {
	return NewOutcomes("Done")
}
func (a *stubActivity) Execute(ctx context.Context, wc *ExecutionContext, ac *ActivityContext) ActivityExecutionResult {
	return Outcomes("Done")
}
func (a *stubActivity) Resume(ctx context.Context, wc *ExecutionContext, ac *ActivityContext) ActivityExecutionResult {
	return Outcomes("Done")
}

func TestCatalogRegisterAndCreate(t *testing.T) {
	c := NewActivityCatalog()

	err := c.Register(
		ActivityMetadata{TypeName: "Stub", Category: "Test"},
		func() Activity { return &stubActivity{name: "Stub"} },
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Register(ActivityMetadata{TypeName: "Stub"}, func() Activity { return nil }); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := c.Register(ActivityMetadata{}, func() Activity { return nil }); err == nil {
		t.Fatal("empty type name accepted")
	}
	if err := c.Register(ActivityMetadata{TypeName: "NoFactory"}, nil); err == nil {
		t.Fatal("nil factory accepted")
	}

	a, err := c.CreateInstance("Stub")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.CreateInstance("Stub")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("CreateInstance returned a shared instance")
	}

	if _, err := c.CreateInstance("Nope"); err == nil {
		t.Fatal("unknown type accepted")
	}

	meta, ok := c.Get("Stub")
	if !ok || meta.Category != "Test" {
		t.Fatalf("Get(Stub) = %+v, %v", meta, ok)
	}
}

func TestCatalogListAllSorted(t *testing.T) {
	c := NewActivityCatalog()
	for _, name := range []string{"Zulu", "Alpha", "Mike"} {
		name := name
		c.MustRegister(ActivityMetadata{TypeName: name},
			func() Activity { return &stubActivity{name: name} })
	}

	all := c.ListAll()
	if len(all) != 3 {
		t.Fatalf("ListAll returned %d entries", len(all))
	}
	want := []string{"Alpha", "Mike", "Zulu"}
	for i, m := range all {
		if m.TypeName != want[i] {
			t.Fatalf("ListAll[%d] = %s, want %s", i, m.TypeName, want[i])
		}
	}
}
