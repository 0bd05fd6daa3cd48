package artifact

import (
	"sync"
	"sync/atomic"
	"testing"

	"lattice/internal/provenance"
	"lattice/internal/types"
	"lattice/internal/view"
)

func fixtures(t *testing.T) (*types.Registry, *view.Registry, *provenance.Graph) {
	t.Helper()
	tr := types.NewRegistry()
	if err := tr.Register("Seq"); err != nil {
		t.Fatal(err)
	}
	vr := view.NewRegistry()
	vr.RegisterView("Seq", "raw")
	vr.RegisterView("Seq", "upper")
	return tr, vr, provenance.NewGraph()
}

func TestImportMintsProvenanceRoot(t *testing.T) {
	tr, vr, g := fixtures(t)
	_ = vr
	r, err := Import(g, tr.MustMake("Seq"), "fasta", "raw", "acgt")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if r.UUID() == "" {
		t.Fatal("missing uuid")
	}
	n, ok := g.Node(r.Node())
	if !ok {
		t.Fatal("import node not in graph")
	}
	if n.Kind != provenance.KindImport || n.Type != "Seq" || n.Format != "fasta" {
		t.Fatalf("unexpected import node: %+v", n)
	}
}

func TestNewRejectsMissingNode(t *testing.T) {
	tr, _, g := fixtures(t)
	_, err := New("id", tr.MustMake("Seq"), "fasta", "raw", "acgt", "missing", g)
	if err == nil {
		t.Fatal("Result minted without a provenance record")
	}
}

func TestMaterializeCachesAndIsIdempotent(t *testing.T) {
	tr, vr, g := fixtures(t)
	var calls atomic.Int64
	err := vr.RegisterTransformer("raw", "upper", func(v any) (any, error) {
		calls.Add(1)
		return "ACGT", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	r, err := Import(g, tr.MustMake("Seq"), "fasta", "raw", "acgt")
	if err != nil {
		t.Fatal(err)
	}

	v1, err := r.Materialize(vr, "upper")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	v2, err := r.Materialize(vr, "upper")
	if err != nil {
		t.Fatalf("Materialize (cached): %v", err)
	}
	if v1 != "ACGT" || v2 != "ACGT" {
		t.Fatalf("got %v, %v", v1, v2)
	}
	if calls.Load() != 1 {
		t.Fatalf("transformer ran %d times, want 1", calls.Load())
	}

	// The already-held view is a no-op, no lock contention, no calls.
	if v, err := r.Materialize(vr, "raw"); err != nil || v != "acgt" {
		t.Fatalf("identity materialization = %v, %v", v, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("identity materialization invoked a transformer")
	}
}

func TestMaterializeConcurrentAccessIsSafe(t *testing.T) {
	tr, vr, g := fixtures(t)
	err := vr.RegisterTransformer("raw", "upper", func(v any) (any, error) {
		return "ACGT", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	r, err := Import(g, tr.MustMake("Seq"), "fasta", "raw", "acgt")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.Materialize(vr, "upper")
			if err != nil || v != "ACGT" {
				t.Errorf("Materialize = %v, %v", v, err)
			}
		}()
	}
	wg.Wait()
}
