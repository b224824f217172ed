package model

import "testing"

func TestResistanceProfile(t *testing.T) {
	tests := []struct {
		p     Phenotype
		wantA bool
		wantB bool
	}{
		{NonResistant, false, false},
		{ResistantA, true, false},
		{ResistantB, false, true},
		{ResistantAB, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.p.String(), func(t *testing.T) {
			if got := tt.p.ResistantTo(DrugA); got != tt.wantA {
				t.Errorf("ResistantTo(A) = %v, want %v", got, tt.wantA)
			}
			if got := tt.p.ResistantTo(DrugB); got != tt.wantB {
				t.Errorf("ResistantTo(B) = %v, want %v", got, tt.wantB)
			}
		})
	}
}

func TestResistant(t *testing.T) {
	if NonResistant.Resistant() {
		t.Error("NonResistant should not be resistant")
	}
	for _, p := range []Phenotype{ResistantA, ResistantB, ResistantAB} {
		if !p.Resistant() {
			t.Errorf("%s should be resistant", p)
		}
	}
}

func TestMutationTargets(t *testing.T) {
	got := NonResistant.MutationTargets()
	if len(got) != 2 || got[0] != ResistantA || got[1] != ResistantB {
		t.Errorf("NonResistant targets = %v, want [resistant-a resistant-b]", got)
	}
	for _, p := range []Phenotype{ResistantA, ResistantB} {
		got := p.MutationTargets()
		if len(got) != 1 || got[0] != ResistantAB {
			t.Errorf("%s targets = %v, want [resistant-ab]", p, got)
		}
	}
	if got := ResistantAB.MutationTargets(); len(got) != 0 {
		t.Errorf("ResistantAB targets = %v, want none", got)
	}
}

func TestParsePhenotype(t *testing.T) {
	for _, p := range AllPhenotypes {
		got, err := ParsePhenotype(p.String())
		if err != nil {
			t.Fatalf("ParsePhenotype(%q): %v", p.String(), err)
		}
		if got != p {
			t.Errorf("ParsePhenotype(%q) = %v, want %v", p.String(), got, p)
		}
	}
	if _, err := ParsePhenotype("mutant"); err == nil {
		t.Error("expected error for unknown phenotype")
	}
}

func TestParseDrugKind(t *testing.T) {
	tests := map[string]DrugKind{"A": DrugA, "b": DrugB, "drugA": DrugA, " DrugB ": DrugB}
	for in, want := range tests {
		got, err := ParseDrugKind(in)
		if err != nil {
			t.Fatalf("ParseDrugKind(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseDrugKind(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseDrugKind("C"); err == nil {
		t.Error("expected error for unknown drug kind")
	}
}

func TestInvalidValues(t *testing.T) {
	if Phenotype(9).Valid() {
		t.Error("Phenotype(9) should be invalid")
	}
	if Phenotype(9).ResistantTo(DrugA) {
		t.Error("invalid phenotype should not resist anything")
	}
	if DrugKind(5).Valid() {
		t.Error("DrugKind(5) should be invalid")
	}
}
