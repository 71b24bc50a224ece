package engine

import "testing"

func TestStructuralKey_EqualInputsProduceEqualKeys(t *testing.T) {
	a := structuralKey(any([]any{1, "two", 3.5, map[string]any{"x": 1, "y": 2}}))
	b := structuralKey(any([]any{1, "two", 3.5, map[string]any{"y": 2, "x": 1}}))
	if a != b {
		t.Fatalf("map key order must not change the structural key: %q != %q", a, b)
	}
}

func TestStructuralKey_TypeTaggedAcrossTypes(t *testing.T) {
	intKey := structuralKey(1)
	strKey := structuralKey("1")
	if intKey == strKey {
		t.Fatalf("int 1 and string %q must not collide: both gave %q", "1", intKey)
	}
}

func TestStructuralKey_OrderSensitive(t *testing.T) {
	a := structuralKey(any([]any{1, 2}))
	b := structuralKey(any([]any{2, 1}))
	if a == b {
		t.Fatal("slice element order must affect the structural key")
	}
}

func TestStructuralKeyOfArgs_NilVsEmpty(t *testing.T) {
	nilKey := structuralKeyOfArgs(nil)
	emptyKey := structuralKeyOfArgs([]any{})
	if nilKey != emptyKey {
		t.Fatalf("nil and empty args should both encode as a zero-length slice: %q != %q", nilKey, emptyKey)
	}
}

func TestStructuralKeyOfEnv_Deterministic(t *testing.T) {
	env := map[string]any{"a": 1, "b": []any{1, 2, 3}, "c": nil}
	k1 := structuralKeyOfEnv(env)
	k2 := structuralKeyOfEnv(env)
	if k1 != k2 {
		t.Fatal("structuralKeyOfEnv must be deterministic for the same map")
	}
}
