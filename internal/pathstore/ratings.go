package pathstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgallion1/lmrate/internal/rating"
)

const (
	rootPrefix = "ratings/users"
	memoryType = "metacognitive"
)

// DocumentMeta describes one stored rating.
type DocumentMeta struct {
	DocID             string  `json:"doc_id"`
	Filename          string  `json:"filename"`
	Title             string  `json:"title"`
	ContentHash       string  `json:"content_hash"`
	ParamsHash        string  `json:"params_hash"`
	Mode              string  `json:"mode"`
	Level             string  `json:"level"`
	Elements          int     `json:"elements"`
	AvgProb           float64 `json:"avg_prob"`
	BytePerplexity    float64 `json:"byte_perplexity"`
	ElementPerplexity float64 `json:"element_perplexity"`
	HasPage           bool    `json:"has_page,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// RatingRecord is a stored rating with its metadata. PageXML, when set, is
// the rewritten PAGE-XML document and is stored as its own node.
type RatingRecord struct {
	Meta    DocumentMeta   `json:"meta"`
	Summary rating.Summary `json:"summary"`
	PageXML string         `json:"-"`
}

func documentsPrefix(userID string) string {
	return fmt.Sprintf("%s/%s/documents", rootPrefix, userID)
}

// DocumentKey is the key under which a document's rating lives.
func DocumentKey(userID, docID string) string {
	return documentsPrefix(userID) + "/" + docID
}

func hashKey(userID, contentHash, paramsHash, docID string) string {
	return fmt.Sprintf("%s/%s/by_hash/%s-%s/%s", rootPrefix, userID, contentHash, paramsHash, docID)
}

func hashPrefix(userID, contentHash, paramsHash string) string {
	return fmt.Sprintf("%s/%s/by_hash/%s-%s", rootPrefix, userID, contentHash, paramsHash)
}

// PutRating writes the rating result and its metadata.
func (c *Client) PutRating(ctx context.Context, userID string, rec RatingRecord) error {
	docKey := DocumentKey(userID, rec.Meta.DocID)
	source := "lmrate:" + rec.Meta.DocID

	if rec.PageXML != "" {
		rec.Meta.HasPage = true
		if err := c.PutNode(ctx, docKey+"/page", NodeRequest{
			Value:      rec.PageXML,
			MemoryType: memoryType,
			Salience:   0.2,
			Source:     source,
		}); err != nil {
			return err
		}
	}
	if err := c.PutNode(ctx, docKey+"/result", NodeRequest{
		Value:      rec.Summary,
		MemoryType: memoryType,
		Salience:   0.3,
		Source:     source,
	}); err != nil {
		return err
	}
	return c.PutNode(ctx, docKey+"/meta", NodeRequest{
		Value:      rec.Meta,
		MemoryType: memoryType,
		Salience:   0.5,
		Source:     source,
	})
}

// PutHashIndex records that docID holds the rating of content rated with
// the given parameters, so identical submissions can be skipped.
func (c *Client) PutHashIndex(ctx context.Context, userID string, meta DocumentMeta) error {
	key := hashKey(userID, meta.ContentHash, meta.ParamsHash, meta.DocID)
	if err := c.PutNode(ctx, key, NodeRequest{
		Value:      map[string]any{"doc_id": meta.DocID, "created_at": meta.CreatedAt},
		MemoryType: memoryType,
		Salience:   0.1,
		Source:     "lmrate:" + meta.DocID,
	}); err != nil {
		return err
	}
	return c.PutLink(ctx, LinkRequest{
		From:    key,
		To:      DocumentKey(userID, meta.DocID) + "/meta",
		Weight:  1,
		Summary: "identical content",
	})
}

// FindByHash returns the document already rated for this content and
// parameters, if any.
func (c *Client) FindByHash(ctx context.Context, userID, contentHash, paramsHash string) (string, bool, error) {
	children, err := c.ListChildren(ctx, hashPrefix(userID, contentHash, paramsHash), 1)
	if err != nil {
		return "", false, err
	}
	if len(children) == 0 {
		return "", false, nil
	}
	return lastSegment(children[0].Key), true, nil
}

// GetRating loads a stored rating. A missing document yields nil, nil.
func (c *Client) GetRating(ctx context.Context, userID, docID string) (*RatingRecord, error) {
	docKey := DocumentKey(userID, docID)
	metaNode, err := c.GetNode(ctx, docKey+"/meta")
	if err != nil || metaNode == nil {
		return nil, err
	}
	var rec RatingRecord
	if err := decodeValue(metaNode.Value, &rec.Meta); err != nil {
		return nil, fmt.Errorf("decode meta %s: %w", docID, err)
	}
	resultNode, err := c.GetNode(ctx, docKey+"/result")
	if err != nil {
		return nil, err
	}
	if resultNode != nil {
		if err := decodeValue(resultNode.Value, &rec.Summary); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", docID, err)
		}
	}
	return &rec, nil
}

// GetPageXML loads the rewritten PAGE-XML of a document. The boolean is
// false when the document has none.
func (c *Client) GetPageXML(ctx context.Context, userID, docID string) (string, bool, error) {
	node, err := c.GetNode(ctx, DocumentKey(userID, docID)+"/page")
	if err != nil || node == nil {
		return "", false, err
	}
	page, ok := node.Value.(string)
	if !ok {
		return "", false, fmt.Errorf("page %s: unexpected value type %T", docID, node.Value)
	}
	return page, true, nil
}

// ListRatings returns the metadata of a user's stored ratings.
func (c *Client) ListRatings(ctx context.Context, userID string, limit int) ([]DocumentMeta, error) {
	children, err := c.ListChildren(ctx, documentsPrefix(userID), limit)
	if err != nil {
		return nil, err
	}
	docs := make([]DocumentMeta, 0, len(children))
	for _, child := range children {
		if lastSegment(child.Key) != "meta" {
			continue
		}
		var meta DocumentMeta
		if err := decodeValue(child.Value, &meta); err != nil {
			continue
		}
		docs = append(docs, meta)
	}
	return docs, nil
}

// DeleteRating removes a document's rating and its hash index entry.
// It reports whether the document existed.
func (c *Client) DeleteRating(ctx context.Context, userID, docID string) (bool, error) {
	docKey := DocumentKey(userID, docID)
	metaNode, err := c.GetNode(ctx, docKey+"/meta")
	if err != nil {
		return false, err
	}
	if metaNode == nil {
		return false, nil
	}
	var meta DocumentMeta
	if err := decodeValue(metaNode.Value, &meta); err == nil && meta.ContentHash != "" {
		if err := c.DeleteNode(ctx, hashKey(userID, meta.ContentHash, meta.ParamsHash, docID), false); err != nil {
			return false, err
		}
	}
	if err := c.DeleteNode(ctx, docKey, true); err != nil {
		return false, err
	}
	return true, nil
}

// decodeValue converts a generic JSON value into out.
func decodeValue(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// lastSegment returns the final component of a key; pathstore reports
// keys with either '/' or '.' separators.
func lastSegment(key string) string {
	if i := strings.LastIndexAny(key, "/."); i >= 0 {
		return key[i+1:]
	}
	return key
}
