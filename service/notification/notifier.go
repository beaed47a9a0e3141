package notification

import (
	"fmt"
	"os"
	"strconv"

	"github.com/homerun-app/homerun-server/cmd/models"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// Dispatcher sends booking and dispute notifications over push and email.
// All sends are fire-and-forget: a failure is logged on the delivery record
// and never propagates to the transition that triggered it.
type Dispatcher struct {
	db         *gorm.DB
	logger     *zap.Logger
	expoClient *expo.PushClient
}

func NewDispatcher(db *gorm.DB, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:         db,
		logger:     logger,
		expoClient: expo.NewPushClient(nil),
	}
}

var bookingMessages = map[string]string{
	"booking_created":   "Your booking has been created and payment authorized.",
	"booking_confirmed": "Your booking has been confirmed.",
	"booking_started":   "Your service has started.",
	"booking_extended":  "Your service time has been extended.",
	"booking_completed": "Your service is complete. You have 48 hours to report a problem.",
	"booking_canceled":  "Your booking has been canceled.",
}

// BookingEvent notifies the customer (when known) and the professional.
func (d *Dispatcher) BookingEvent(event string, booking *models.Booking) {
	body, ok := bookingMessages[event]
	if !ok {
		body = fmt.Sprintf("Booking update: %s", event)
	}
	title := "Homerun booking #" + strconv.FormatUint(uint64(booking.ID), 10)

	go func() {
		if booking.CustomerID != nil {
			d.send(*booking.CustomerID, &booking.ID, event, title, body)
		}
		d.send(booking.ProfessionalID, &booking.ID, event, title, body)
	}()
}

var disputeMessages = map[string]string{
	"dispute_filed":    "A dispute has been filed on your booking.",
	"dispute_resolved": "Your dispute has been reviewed and closed.",
}

func (d *Dispatcher) DisputeEvent(event string, dispute *models.Dispute) {
	body, ok := disputeMessages[event]
	if !ok {
		body = fmt.Sprintf("Dispute update: %s", event)
	}
	title := "Homerun dispute #" + strconv.FormatUint(uint64(dispute.ID), 10)

	go func() {
		d.send(dispute.CustomerID, &dispute.BookingID, event, title, body)
		d.send(dispute.ProfessionalID, &dispute.BookingID, event, title, body)
	}()
}

// send pushes to every registered device and emails the account address,
// recording each delivery attempt.
func (d *Dispatcher) send(userID uint, bookingID *uint, event, title, body string) {
	record := models.Notification{
		UserID:    userID,
		BookingID: bookingID,
		Event:     event,
		Title:     title,
		Body:      body,
	}

	var devices []models.Device
	if err := d.db.Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		d.logger.Error("load devices", zap.Uint("user_id", userID), zap.Error(err))
	}
	for _, device := range devices {
		record.Channel = "push"
		record.Delivered = true
		record.SendError = ""
		if err := d.pushTo(device.Token, title, body); err != nil {
			d.logger.Warn("push send failed", zap.Uint("user_id", userID), zap.Error(err))
			record.Delivered = false
			record.SendError = err.Error()
		}
		d.db.Create(&record)
		record.ID = 0
	}

	var user models.User
	if err := d.db.First(&user, userID).Error; err != nil {
		d.logger.Error("load user for email", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	record.Channel = "email"
	record.Delivered = true
	record.SendError = ""
	if err := d.emailTo(user.Email, title, body); err != nil {
		d.logger.Warn("email send failed", zap.Uint("user_id", userID), zap.Error(err))
		record.Delivered = false
		record.SendError = err.Error()
	}
	d.db.Create(&record)
}

func (d *Dispatcher) pushTo(token, title, body string) error {
	pushToken, err := expo.NewExponentPushToken(token)
	if err != nil {
		return err
	}
	response, err := d.expoClient.Publish(&expo.PushMessage{
		To:       []expo.ExponentPushToken{pushToken},
		Title:    title,
		Body:     body,
		Sound:    "default",
		Priority: expo.DefaultPriority,
	})
	if err != nil {
		return err
	}
	return response.ValidateResponse()
}

func (d *Dispatcher) emailTo(to, subject, body string) error {
	smtpHost := os.Getenv("SMTP_HOST")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")
	port, err := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if err != nil {
		port = 587
	}
	if smtpHost == "" {
		return fmt.Errorf("SMTP_HOST not configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", smtpUser)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	dialer := gomail.NewDialer(smtpHost, port, smtpUser, smtpPass)
	return dialer.DialAndSend(m)
}
