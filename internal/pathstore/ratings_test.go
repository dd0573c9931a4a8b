package pathstore

import (
	"context"
	"net/http"
	"testing"

	"github.com/dgallion1/lmrate/internal/pathstore/pathstoretest"
	"github.com/dgallion1/lmrate/internal/rating"
)

func sampleRecord(docID string) RatingRecord {
	return RatingRecord{
		Meta: DocumentMeta{
			DocID:          docID,
			Filename:       "page.xml",
			ContentHash:    "abc",
			ParamsHash:     "p1",
			Mode:           "alternatives",
			Level:          "glyph",
			Elements:       2,
			BytePerplexity: 2,
		},
		Summary: rating.Summary{
			Mode:     rating.ModeAlternatives,
			Elements: []rating.ElementSummary{{ID: "g1", Text: "a", Conf: 0.5}},
		},
	}
}

func TestRatingRoundTrip(t *testing.T) {
	srv := pathstoretest.NewServer()
	defer srv.Close()
	c := NewClient(srv.URL+"/", "key")
	ctx := context.Background()

	rec := sampleRecord("doc1")
	if err := c.PutRating(ctx, "u1", rec); err != nil {
		t.Fatalf("put rating: %v", err)
	}
	if err := c.PutHashIndex(ctx, "u1", rec.Meta); err != nil {
		t.Fatalf("put hash index: %v", err)
	}
	if srv.Links() != 1 {
		t.Fatalf("expected 1 link, got %d", srv.Links())
	}

	got, err := c.GetRating(ctx, "u1", "doc1")
	if err != nil {
		t.Fatalf("get rating: %v", err)
	}
	if got == nil {
		t.Fatal("expected rating, got nil")
	}
	if got.Meta.Filename != "page.xml" || got.Meta.BytePerplexity != 2 {
		t.Fatalf("unexpected meta: %+v", got.Meta)
	}
	if len(got.Summary.Elements) != 1 || got.Summary.Elements[0].Conf != 0.5 {
		t.Fatalf("unexpected summary: %+v", got.Summary)
	}

	docID, found, err := c.FindByHash(ctx, "u1", "abc", "p1")
	if err != nil || !found || docID != "doc1" {
		t.Fatalf("expected doc1 by hash, got %q found=%v err=%v", docID, found, err)
	}
	if _, found, _ := c.FindByHash(ctx, "u1", "abc", "p2"); found {
		t.Fatal("expected no match for other parameters")
	}
}

func TestListAndDeleteRatings(t *testing.T) {
	srv := pathstoretest.NewServer()
	defer srv.Close()
	c := NewClient(srv.URL, "key")
	ctx := context.Background()

	for _, id := range []string{"doc1", "doc2"} {
		rec := sampleRecord(id)
		if err := c.PutRating(ctx, "u1", rec); err != nil {
			t.Fatalf("put rating: %v", err)
		}
		if err := c.PutHashIndex(ctx, "u1", rec.Meta); err != nil {
			t.Fatalf("put hash index: %v", err)
		}
	}

	docs, err := c.ListRatings(ctx, "u1", 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	deleted, err := c.DeleteRating(ctx, "u1", "doc1")
	if err != nil || !deleted {
		t.Fatalf("expected delete, got deleted=%v err=%v", deleted, err)
	}
	if got, _ := c.GetRating(ctx, "u1", "doc1"); got != nil {
		t.Fatal("expected doc1 to be gone")
	}
	docID, found, _ := c.FindByHash(ctx, "u1", "abc", "p1")
	if !found || docID != "doc2" {
		t.Fatalf("expected doc2 to remain in hash index, got %q", docID)
	}

	deleted, err = c.DeleteRating(ctx, "u1", "missing")
	if err != nil || deleted {
		t.Fatalf("expected no-op delete, got deleted=%v err=%v", deleted, err)
	}
}

func TestPutNodeRetryableError(t *testing.T) {
	srv := pathstoretest.NewServer()
	defer srv.Close()
	c := NewClient(srv.URL, "key")

	srv.FailPuts(http.StatusServiceUnavailable)
	err := c.PutRating(context.Background(), "u1", sampleRecord("doc1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}

	srv.FailPuts(http.StatusBadRequest)
	err = c.PutRating(context.Background(), "u1", sampleRecord("doc1"))
	if err == nil || IsRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestGetNodeMissing(t *testing.T) {
	srv := pathstoretest.NewServer()
	defer srv.Close()
	c := NewClient(srv.URL, "key")

	node, err := c.GetNode(context.Background(), "nope")
	if err != nil || node != nil {
		t.Fatalf("expected nil, nil for missing node, got %v, %v", node, err)
	}
}

func TestPageXMLStoredWithRating(t *testing.T) {
	srv := pathstoretest.NewServer()
	defer srv.Close()
	c := NewClient(srv.URL, "key")
	ctx := context.Background()

	if _, found, err := c.GetPageXML(ctx, "u1", "doc1"); err != nil || found {
		t.Fatalf("expected no page before storing, got found=%v err=%v", found, err)
	}

	rec := sampleRecord("doc1")
	rec.PageXML = `<PcGts><Page/></PcGts>`
	if err := c.PutRating(ctx, "u1", rec); err != nil {
		t.Fatalf("put rating: %v", err)
	}

	page, found, err := c.GetPageXML(ctx, "u1", "doc1")
	if err != nil || !found {
		t.Fatalf("expected stored page, got found=%v err=%v", found, err)
	}
	if page != rec.PageXML {
		t.Fatalf("expected %q, got %q", rec.PageXML, page)
	}
	got, err := c.GetRating(ctx, "u1", "doc1")
	if err != nil || got == nil || !got.Meta.HasPage {
		t.Fatalf("expected meta to record the page, got %+v err=%v", got, err)
	}
	docs, err := c.ListRatings(ctx, "u1", 10)
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected page node to stay out of listings, got %d docs err=%v", len(docs), err)
	}

	if _, err := c.DeleteRating(ctx, "u1", "doc1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := c.GetPageXML(ctx, "u1", "doc1"); found {
		t.Fatal("expected page removed with the rating")
	}
}
