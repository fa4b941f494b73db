package respbuffer

import "testing"

func TestAppendChunkAccumulatesAcrossCalls(t *testing.T) {
	b := New()
	b.AppendChunk("Here is a tip: [TIP]")
	b.AppendChunk("Stay hydrated.[/TIP] Enjoy!")

	snap := b.Snapshot()
	if snap.Tip != "Stay hydrated." {
		t.Fatalf("expected tip split across chunks to be extracted, got %q", snap.Tip)
	}
}

func TestQuickRepliesClosedTag(t *testing.T) {
	b := New()
	b.AppendChunk("Sure.\n[QUICK_REPLIES]\n- Tell me more\n- Show alternatives\n[/QUICK_REPLIES]\n")

	got := b.Snapshot().QuickReplies
	want := []string{"Tell me more", "Show alternatives"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestQuickRepliesTruncatedTagFallback(t *testing.T) {
	b := New()
	b.AppendChunk("Sure.\n[QUICK_REPLIES]\n- Tell me more\n- Show alternatives")

	got := b.Snapshot().QuickReplies
	if len(got) != 2 {
		t.Fatalf("expected truncated tag to still yield 2 replies, got %v", got)
	}
}

func TestQuickRepliesLocalizedHeadingFallback(t *testing.T) {
	b := New()
	b.AppendChunk("პასუხი მზადაა.\nშემდეგი ნაბიჯი:\n- ვარიანტი ერთი\n- ვარიანტი ორი\n")

	got := b.Snapshot().QuickReplies
	if len(got) != 2 {
		t.Fatalf("expected localized heading fallback to yield 2 replies, got %v", got)
	}
}

func TestTipUnclosedIsDropped(t *testing.T) {
	b := New()
	b.AppendChunk("[TIP] this tip never closes")

	if got := b.Snapshot().Tip; got != "" {
		t.Fatalf("expected unclosed tip to be dropped, got %q", got)
	}
}

func TestProductMarkdownExtraction(t *testing.T) {
	b := New()
	b.AppendChunk("Here are some options:\n1. Winter Boots — 129.99₾\n2. Wool Hat — 39₾\n")

	got := b.Snapshot().Products
	if len(got) != 2 {
		t.Fatalf("expected 2 products, got %v", got)
	}
	if got[0].Name != "Winter Boots" || got[0].Price != 129.99 {
		t.Fatalf("unexpected first product: %+v", got[0])
	}
	if got[1].Name != "Wool Hat" || got[1].Price != 39 {
		t.Fatalf("unexpected second product: %+v", got[1])
	}
}

func TestExtractionOnlyRunsOnAccumulatedBuffer(t *testing.T) {
	b := New()
	// Split the quick-replies tag itself across two chunks; a per-chunk
	// regex would never see the opening and closing tag together.
	b.AppendChunk("Sure. [QUICK_REP")
	b.AppendChunk("LIES]\n- option a\n[/QUICK_REPLIES]")

	got := b.Snapshot().QuickReplies
	if len(got) != 1 || got[0] != "option a" {
		t.Fatalf("expected cross-chunk tag to be extracted from accumulated buffer, got %v", got)
	}
}

func TestClearResetsBuffer(t *testing.T) {
	b := New()
	b.AppendChunk("[TIP]keep hydrated[/TIP]")
	b.Clear()

	snap := b.Snapshot()
	if snap.Text != "" || snap.Tip != "" {
		t.Fatalf("expected Clear to reset the buffer, got %+v", snap)
	}
}
