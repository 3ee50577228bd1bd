package ocr

import "testing"

func TestDrugBoxProfileClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"國药準字H20013090", "国药准字H20013090"},
		{"国药准字 Z 44020211", "国药准字Z44020211"},
		{"  布洛芬缓释膠囊 ", "布洛芬缓释胶囊"},
		{"0.3g×24粒", "0.3g×24粒"},
	}
	for _, tt := range tests {
		if got := DrugBoxProfile.Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProfileApplyKeepsFailedResult(t *testing.T) {
	failed := &Result{Lines: []Line{}, Engine: NullEngine, Error: "no OCR engine available"}
	if got := DrugBoxProfile.Apply(failed); got != failed {
		t.Error("empty result should be returned unchanged")
	}
}

func TestCollapseHanSpaces(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"阿 莫 西 林", "阿莫西林"},
		{"规格 0.25g", "规格 0.25g"},
		{"Amoxicillin  Capsules", "Amoxicillin Capsules"},
		{" 胶囊\t剂 ", "胶囊剂"},
	}
	for _, tt := range tests {
		if got := collapseHanSpaces(tt.in); got != tt.want {
			t.Errorf("collapseHanSpaces(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("Fusion") != ModeFusion || ParseMode("") != ModeDefault || ParseMode("nope") != ModeDefault {
		t.Error("ParseMode mapping wrong")
	}
}
