package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/donations-system/internal/model"
)

type donateRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Interval model.Interval  `json:"interval"`
}

type createFundRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	TargetAmount decimal.Decimal `json:"targetAmount"`
	Plan         model.Interval  `json:"plan"`
}

type createUserRequest struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Role        model.Role `json:"role"`
	BankDetails string     `json:"bankDetails"`
}

type balanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type bankDetailsRequest struct {
	BankDetails string `json:"bankDetails"`
}

type checkoutRequest struct {
	UserID   string         `json:"userId"`
	PriceID  string         `json:"priceId"`
	FundID   string         `json:"fundId"`
	Interval model.Interval `json:"interval"`
}

type fundResponse struct {
	ID            string          `json:"id"`
	AdminID       string          `json:"adminId"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	TargetAmount  decimal.Decimal `json:"targetAmount"`
	CurrentAmount decimal.Decimal `json:"currentAmount"`
	Plan          model.Interval  `json:"plan"`
	IsActive      bool            `json:"isActive"`
	StartDate     string          `json:"startDate"`
}

func toFundResponse(f *model.Fund) fundResponse {
	return fundResponse{
		ID:            f.ID,
		AdminID:       f.AdminID,
		Name:          f.Name,
		Description:   f.Description,
		TargetAmount:  model.FromMinor(f.TargetAmount),
		CurrentAmount: model.FromMinor(f.CurrentAmount),
		Plan:          f.Plan,
		IsActive:      f.IsActive,
		StartDate:     f.StartDate.Format(time.RFC3339),
	}
}

type donationResponse struct {
	DonorID   string               `json:"donorId"`
	Amount    decimal.Decimal      `json:"amount"`
	Interval  model.Interval       `json:"interval"`
	Source    model.DonationSource `json:"source"`
	CreatedAt string               `json:"createdAt"`
}

type analyticsResponse struct {
	Fund          fundResponse       `json:"fund"`
	LoggedTotal   decimal.Decimal    `json:"loggedTotal"`
	DonationCount int                `json:"donationCount"`
	DonorCount    int                `json:"donorCount"`
	Progress      float64            `json:"progress"`
	Recent        []donationResponse `json:"recentDonations"`
}

func toAnalyticsResponse(a *model.FundAnalytics) analyticsResponse {
	recent := make([]donationResponse, 0, len(a.Recent))
	for _, d := range a.Recent {
		recent = append(recent, donationResponse{
			DonorID:   d.DonorID,
			Amount:    model.FromMinor(d.Amount),
			Interval:  d.Interval,
			Source:    d.Source,
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
		})
	}

	return analyticsResponse{
		Fund:          toFundResponse(a.Fund),
		LoggedTotal:   model.FromMinor(a.LoggedTotal),
		DonationCount: a.DonationCount,
		DonorCount:    a.DonorCount,
		Progress:      a.Progress,
		Recent:        recent,
	}
}

type userResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Role        model.Role      `json:"role"`
	Balance     decimal.Decimal `json:"amount"`
	BankDetails string          `json:"bankDetails,omitempty"`
	FundIDs     []string        `json:"funds"`
	Token       string          `json:"token,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	funds := u.FundIDs
	if funds == nil {
		funds = []string{}
	}
	return userResponse{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Role:        u.Role,
		Balance:     model.FromMinor(u.Balance),
		BankDetails: u.BankDetails,
		FundIDs:     funds,
	}
}

type historyResponse struct {
	FundID    string               `json:"fundId"`
	Amount    decimal.Decimal      `json:"amount"`
	Interval  model.Interval       `json:"interval"`
	Source    model.DonationSource `json:"source"`
	PaidAt    string               `json:"paidAt"`
	InvoiceID string               `json:"invoiceId,omitempty"`
}

func toHistoryResponse(e model.HistoryEntry) historyResponse {
	return historyResponse{
		FundID:    e.FundID,
		Amount:    model.FromMinor(e.Amount),
		Interval:  e.Interval,
		Source:    e.Source,
		PaidAt:    e.PaidAt.Format(time.RFC3339),
		InvoiceID: e.InvoiceID,
	}
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}
