package model

import "time"

// Movie is a film that can be scheduled into shows.  Records are
// imported from the catalogue provider and keyed by its id.
type Movie struct {
    ID           string    // movies.id
    Title        string    // movies.title
    Overview     string    // movies.overview
    PosterPath   string    // movies.poster_path
    BackdropPath string    // movies.backdrop_path
    ReleaseDate  string    // movies.release_date
    Runtime      uint32    // movies.runtime (minutes)
    CreatedAt    time.Time // movies.created_at
}
