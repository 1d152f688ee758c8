package checksum

import "testing"

func TestSum(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Sum("abc"); got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
	if Sum("a") == Sum("b") {
		t.Error("different text must differ")
	}
}
