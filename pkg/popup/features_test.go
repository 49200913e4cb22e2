package popup

import "testing"

func TestFeatureStringDefault(t *testing.T) {
	want := "titlebar=0,toolbar=0,status=0,menubar=0,resizable=0,height=1200,width=700,popup=1"
	if got := FeatureString(DefaultFeatures); got != want {
		t.Fatalf("FeatureString = %q, want %q", got, want)
	}
}

func TestParseFeatures(t *testing.T) {
	table := ParseFeatures("width=700, height=1200,bogus,popup=x")
	if table["width"] != 700 || table["height"] != 1200 {
		t.Fatalf("unexpected table %v", table)
	}
	if _, ok := table["popup"]; ok {
		t.Fatalf("non-numeric entry kept: %v", table)
	}
	if len(table) != 2 {
		t.Fatalf("len = %d, want 2", len(table))
	}
}
