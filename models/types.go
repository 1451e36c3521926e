package models

import (
	spotifyclient "github.com/zmb3/spotify/v2"
)

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	URI        string   `json:"uri"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
	DurationMs int      `json:"duration_ms"`
	// IsLiked is a lazily-populated overlay, not part of the canonical
	// track record. Nil means unknown.
	IsLiked *bool `json:"is_liked,omitempty"`
}

// FromFullTrack converts the remote API representation into our own.
func FromFullTrack(t *spotifyclient.FullTrack) Track {
	track := Track{
		ID:         string(t.ID),
		Name:       t.Name,
		URI:        string(t.URI),
		DurationMs: int(t.Duration),
		Album: Album{
			ID:   string(t.Album.ID),
			Name: t.Album.Name,
		},
	}
	for _, a := range t.Artists {
		track.Artists = append(track.Artists, Artist{
			ID:   string(a.ID),
			Name: a.Name,
		})
	}
	for _, img := range t.Album.Images {
		track.Album.Images = append(track.Album.Images, Image{
			URL:    img.URL,
			Height: int(img.Height),
			Width:  int(img.Width),
		})
	}
	return track
}

// FromSimpleTrack converts an album track, which carries no album of its
// own, using the parent album's metadata.
func FromSimpleTrack(t *spotifyclient.SimpleTrack, album *spotifyclient.SimpleAlbum) Track {
	track := Track{
		ID:         string(t.ID),
		Name:       t.Name,
		URI:        string(t.URI),
		DurationMs: int(t.Duration),
	}
	for _, a := range t.Artists {
		track.Artists = append(track.Artists, Artist{
			ID:   string(a.ID),
			Name: a.Name,
		})
	}
	if album != nil {
		track.Album = Album{
			ID:   string(album.ID),
			Name: album.Name,
		}
		for _, img := range album.Images {
			track.Album.Images = append(track.Album.Images, Image{
				URL:    img.URL,
				Height: int(img.Height),
				Width:  int(img.Width),
			})
		}
	}
	return track
}

func (t *Track) Liked() bool {
	return t.IsLiked != nil && *t.IsLiked
}

func (t *Track) SetLiked(liked bool) {
	t.IsLiked = &liked
}
