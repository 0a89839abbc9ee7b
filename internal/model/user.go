package model

import "time"

// User mirrors an account owned by the external auth provider.  Rows are
// created, updated and deleted only by the user sync handlers; the ID is
// the provider's user id so repeated deliveries overwrite the same row.
//
// Fields:
//  ID        – auth provider user id.
//  Email     – primary email address.
//  Name      – display name.
//  ImageURL  – avatar URL.
//  CreatedAt – timestamp of first sync.
//  UpdatedAt – timestamp of last sync.
type User struct {
    ID        string    // users.id
    Email     string    // users.email
    Name      string    // users.name
    ImageURL  string    // users.image_url
    CreatedAt time.Time // users.created_at
    UpdatedAt time.Time // users.updated_at
}
