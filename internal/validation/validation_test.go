package validation

import (
	"testing"
)

func validOrder() CreateOrderRequest {
	return CreateOrderRequest{
		MerchantReference: "m1",
		UserRef:           "user-1",
		Platform:          "instagram",
		ServiceName:       "followers",
		Quality:           "standard",
		TargetLink:        "https://instagram.com/someone",
		Quantity:          1000,
		Amount:            5,
		Currency:          "KES",
		BuyerEmail:        "buyer@example.com",
	}
}

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()

	if err := v.Struct(validOrder()); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}

	req := validOrder()
	req.BuyerEmail = ""
	req.BuyerPhone = "+254700000000"
	if err := v.Struct(req); err != nil {
		t.Fatalf("phone-only contact should be valid, got: %v", err)
	}
}

func TestCreateOrderRequest_ContactRequired(t *testing.T) {
	v := New()

	req := validOrder()
	req.BuyerEmail = ""

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for missing contact, got nil")
	}
}

func TestCreateOrderRequest_InvalidFields(t *testing.T) {
	v := New()

	cases := map[string]func(r *CreateOrderRequest){
		"bad link":      func(r *CreateOrderRequest) { r.TargetLink = "not a url" },
		"zero quantity": func(r *CreateOrderRequest) { r.Quantity = 0 },
		"zero amount":   func(r *CreateOrderRequest) { r.Amount = 0 },
		"currency":      func(r *CreateOrderRequest) { r.Currency = "KSHS" },
		"email":         func(r *CreateOrderRequest) { r.BuyerEmail = "nope" },
		"no platform":   func(r *CreateOrderRequest) { r.Platform = "" },
	}
	for name, edit := range cases {
		req := validOrder()
		edit(&req)
		if err := v.Struct(req); err == nil {
			t.Fatalf("%s: expected validation error, got nil", name)
		}
	}
}

func TestCancelRequest(t *testing.T) {
	v := New()

	if err := v.Struct(CancelRequest{OrderIDs: []string{"o1"}}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := v.Struct(CancelRequest{}); err == nil {
		t.Fatal("expected error for empty id list")
	}
	if err := v.Struct(CancelRequest{OrderIDs: []string{"o1", ""}}); err == nil {
		t.Fatal("expected error for blank id")
	}
	ids := make([]string, 101)
	for i := range ids {
		ids[i] = "o"
	}
	if err := v.Struct(CancelRequest{OrderIDs: ids}); err == nil {
		t.Fatal("expected error for more than 100 ids")
	}
}

func TestValidationErrorsUseJSONNames(t *testing.T) {
	v := New()
	req := validOrder()
	req.TargetLink = ""

	fields := validationErrorsToMap(v.Struct(req))
	if fields["target_link"] != "required" {
		t.Fatalf("expected target_link=required, got %v", fields)
	}
}
