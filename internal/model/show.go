package model

import "time"

// Show represents a scheduled screening of a movie.  The occupied seat
// map is embedded in the show row and is the single source of truth for
// seat availability: a seat id is present iff it is held by an unpaid
// booking or owned by a paid one, and the value is the holder's user id.
//
// Fields:
//  ID            – primary key identifier (UUID).
//  MovieID       – movie being screened.
//  ShowDateTime  – when the show begins (UTC).
//  PriceCents    – price per seat in cents.
//  OccupiedSeats – seat id -> user id.
//  Version       – optimistic locking counter bumped on every seat map write.
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – last update timestamp.
type Show struct {
    ID            string    // shows.id
    MovieID       string    // shows.movie_id
    ShowDateTime  time.Time // shows.show_datetime
    PriceCents    uint32    // shows.show_price_cents
    OccupiedSeats SeatMap   // shows.occupied_seats (JSON object)
    Version       uint32    // shows.version
    CreatedAt     time.Time // shows.created_at
    UpdatedAt     time.Time // shows.updated_at
}

// ShowWithMovie bundles a show with the movie it screens.  Movie is nil
// when the referenced movie row no longer exists.
type ShowWithMovie struct {
    Show
    Movie *Movie
}
