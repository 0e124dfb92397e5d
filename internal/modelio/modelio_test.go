package modelio

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"reconstructor/internal/network"
)

const cobraModel = `{
  "id": "ecoli_core",
  "name": "E. coli core",
  "compartments": {"c": "cytosol", "e": "extracellular", "p": "periplasm"},
  "metabolites": [
    {"id": "glc__D_e", "name": "D-Glucose", "compartment": "e", "formula": "C6H12O6", "charge": 0},
    {"id": "glc__D_c", "name": "D-Glucose", "compartment": "c", "annotation": {"kegg.compound": ["C00031", "C00267"]}},
    {"id": "x_p", "compartment": "p"}
  ],
  "reactions": [
    {"id": "EX_glc__D_e", "metabolites": {"glc__D_e": -1}, "lower_bound": -10, "upper_bound": 1000, "gene_reaction_rule": ""},
    {"id": "GLCpts", "name": "D-glucose transport", "metabolites": {"glc__D_e": -1, "glc__D_c": 1}, "lower_bound": 0, "upper_bound": 1000,
     "gene_reaction_rule": "b2417 or b1101", "annotation": {"sbo": "SBO:0000185"}},
    {"id": "BIOMASS", "metabolites": {"glc__D_c": -1}, "lower_bound": 0, "upper_bound": 1000, "gene_reaction_rule": "", "objective_coefficient": 1.0}
  ],
  "genes": [{"id": "b2417", "name": "crr"}, {"id": "b1101", "annotation": {"sbo": "SBO:0000243"}}],
  "version": "1"
}`

func TestReadCobraJSON(t *testing.T) {
	n, err := Read(strings.NewReader(cobraModel))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n.ID != "ecoli_core" || n.Objective() != "BIOMASS" || n.ReactionCount() != 3 {
		t.Fatalf("unexpected model %s objective=%s reactions=%d", n.ID, n.Objective(), n.ReactionCount())
	}

	glcE, _ := n.Metabolite("glc__D_e")
	if glcE.Compartment != network.Extracellular || glcE.Charge == nil {
		t.Fatalf("glc__D_e decoded as %+v", glcE)
	}
	glcC, _ := n.Metabolite("glc__D_c")
	if got := glcC.Annotation["kegg.compound"]; got != "C00031;C00267" {
		t.Fatalf("list annotation joined as %q", got)
	}
	xp, _ := n.Metabolite("x_p")
	if xp.Compartment != network.Compartment("p") {
		t.Fatalf("unknown compartment mapped to %q", xp.Compartment)
	}

	genes := n.Genes()
	if len(genes) != 2 {
		t.Fatalf("expected 2 genes, got %d", len(genes))
	}
	if genes[0].ID != "b1101" || genes[0].Annotation["sbo"] != "SBO:0000243" || genes[1].Name != "crr" {
		t.Fatalf("unexpected genes %+v", genes)
	}
}

func TestWriteThenReadPreservesNetwork(t *testing.T) {
	n, err := Read(strings.NewReader(cobraModel))
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var buf bytes.Buffer
	if err := Write(&buf, n); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), `"objective_coefficient": 1`) {
		t.Fatalf("objective not encoded:\n%s", buf.String())
	}

	back, err := Read(&buf)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if back.Fingerprint() != n.Fingerprint() {
		t.Fatalf("fingerprint changed across write/read")
	}
}

func TestReadRejectsMalformed(t *testing.T) {
	if _, err := Read(strings.NewReader(`{"reactions": [{"id": ""}]}`)); err == nil {
		t.Fatalf("expected error for reaction without id")
	}
	if _, err := Read(strings.NewReader(`{"reactions": [{"id": "a"}, {"id": "a"}]}`)); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := Read(strings.NewReader(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestReadRejectsUnsupportedObjectives(t *testing.T) {
	cases := map[string]struct {
		doc       string
		reactions []string
	}{
		"negative coefficient": {
			doc:       `{"reactions": [{"id": "a", "objective_coefficient": -1}]}`,
			reactions: []string{"a"},
		},
		"two objectives": {
			doc:       `{"reactions": [{"id": "a", "objective_coefficient": 1}, {"id": "b"}, {"id": "c", "objective_coefficient": 0.5}]}`,
			reactions: []string{"a", "c"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.doc))
			var objErr *ObjectiveError
			if !errors.As(err, &objErr) {
				t.Fatalf("expected ObjectiveError, got %v", err)
			}
			if !slices.Equal(objErr.Reactions, tc.reactions) {
				t.Fatalf("error names %v, want %v", objErr.Reactions, tc.reactions)
			}
		})
	}
}

func TestReadKeepsSingleScaledObjective(t *testing.T) {
	n, err := Read(strings.NewReader(`{"reactions": [{"id": "a"}, {"id": "b", "objective_coefficient": 2.5}]}`))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n.Objective() != "b" {
		t.Fatalf("objective = %q, want b", n.Objective())
	}
}
