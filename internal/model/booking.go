package model

import "time"

// Booking records a user's seat hold for a show.  A booking is created
// unpaid by the checkout flow, becomes paid when the payment provider
// confirms the charge, and is deleted by the release workflow when it is
// still unpaid at the end of the hold window.
//
// Fields:
//  ID          – system generated identifier (UUID).
//  UserID      – auth provider id of the user holding the seats.
//  ShowID      – show the seats belong to.
//  AmountCents – total price of the booked seats in cents.
//  BookedSeats – seat identifiers captured at hold time; never empty.
//  IsPaid      – whether payment has been confirmed.
//  PaymentLink – checkout URL issued by the payment provider (nullable).
//  PaidAt      – when payment was confirmed (nullable).
//  CreatedAt   – creation timestamp.
//  UpdatedAt   – last update timestamp.
type Booking struct {
    ID          string     // bookings.id
    UserID      string     // bookings.user_id
    ShowID      string     // bookings.show_id
    AmountCents uint32     // bookings.amount_cents
    BookedSeats SeatList   // bookings.booked_seats (JSON array)
    IsPaid      bool       // bookings.is_paid
    PaymentLink *string    // bookings.payment_link (nullable)
    PaidAt      *time.Time // bookings.paid_at (nullable)
    CreatedAt   time.Time  // bookings.created_at
    UpdatedAt   time.Time  // bookings.updated_at
}
