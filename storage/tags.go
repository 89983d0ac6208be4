// ABOUTME: Generic tag storage shared by global/feed/entry resources; reserved names are not checked here
// ABOUTME: Values are stored as JSON text and decoded back to Go's untyped JSON representation

package storage

import (
	"context"
	"encoding/json"

	"github.com/colinashford/feedcore/models"
	"github.com/colinashford/feedcore/readererr"
)

// SetTag upserts a tag value on the resource identified by key.
// Reserved-name enforcement is the reader facade's job (reader/plugin
// internal setters are unrestricted, user-facing ones refuse reserved
// prefixes); this layer writes whatever name it's given.
func (s *Store) SetTag(ctx context.Context, key models.ResourceKey, name string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return readererr.NewStorageError("set_tag: marshal value", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO tags (resource_feed_url, resource_entry_id, name, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (resource_feed_url, resource_entry_id, name) DO UPDATE SET value = excluded.value`,
		key.FeedURL, key.EntryID, name, string(encoded),
	)
	if err != nil {
		return readererr.NewStorageError("set_tag", err)
	}
	return nil
}

// GetTag fetches a single tag's value.
func (s *Store) GetTag(ctx context.Context, key models.ResourceKey, name string) (any, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM tags WHERE resource_feed_url = ? AND resource_entry_id = ? AND name = ?`,
		key.FeedURL, key.EntryID, name).Scan(&encoded)
	if isNoRows(err) {
		return nil, readererr.NewTagNotFoundError(name)
	}
	if err != nil {
		return nil, readererr.NewStorageError("get_tag", err)
	}

	var value any
	if err := json.Unmarshal([]byte(encoded), &value); err != nil {
		return nil, readererr.NewStorageError("get_tag: unmarshal value", err)
	}
	return value, nil
}

// GetTags lists every tag (name and decoded value) on the resource
// identified by key, ordered by name.
func (s *Store) GetTags(ctx context.Context, key models.ResourceKey) ([]models.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM tags
		WHERE resource_feed_url = ? AND resource_entry_id = ? ORDER BY name`,
		key.FeedURL, key.EntryID)
	if err != nil {
		return nil, readererr.NewStorageError("get_tags", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var name, encoded string
		if err := rows.Scan(&name, &encoded); err != nil {
			return nil, readererr.NewStorageError("get_tags: scan", err)
		}
		var value any
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			return nil, readererr.NewStorageError("get_tags: unmarshal value", err)
		}
		tags = append(tags, models.Tag{Resource: key, Name: name, Value: value})
	}
	return tags, rows.Err()
}

// GetTagKeys lists every distinct tag name on the resource identified by
// key, without decoding values.
func (s *Store) GetTagKeys(ctx context.Context, key models.ResourceKey) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM tags
		WHERE resource_feed_url = ? AND resource_entry_id = ? ORDER BY name`,
		key.FeedURL, key.EntryID)
	if err != nil {
		return nil, readererr.NewStorageError("get_tag_keys", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, readererr.NewStorageError("get_tag_keys: scan", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteTag removes a single tag. Returns *readererr.TagNotFoundError if
// the name wasn't set.
func (s *Store) DeleteTag(ctx context.Context, key models.ResourceKey, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE resource_feed_url = ? AND resource_entry_id = ? AND name = ?`,
		key.FeedURL, key.EntryID, name)
	if err != nil {
		return readererr.NewStorageError("delete_tag", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return readererr.NewTagNotFoundError(name)
	}
	return nil
}
