package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/config"
	"github.com/iliyamo/luthier-storefront/internal/handler"
	"github.com/iliyamo/luthier-storefront/internal/lock"
	"github.com/iliyamo/luthier-storefront/internal/middleware"
	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/router"
	"github.com/iliyamo/luthier-storefront/internal/service"
	"github.com/iliyamo/luthier-storefront/internal/testutil"
	"github.com/iliyamo/luthier-storefront/internal/utils"
)

const (
	secret         = "test-secret"
	internalSecret = "frontend-secret"
)

type server struct {
	e     *echo.Echo
	store *testutil.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	log := zap.NewNop()
	store := testutil.NewStore("en")

	catalog := service.NewCatalogService(store.InstrumentRepo(), store, "en", []string{"de"}, log)
	reservations := service.NewReservationService(store, store.InstrumentRepo(), lock.Noop{},
		service.Pricing{}, service.ReservationConfig{Limit: 2, Tolerance: decimal.NewFromInt(1)}, log)
	orders := service.NewOrderService(store, store.OrderRepo(), log)
	auth := service.NewAuthService(store.UserRepo(), store.TokenRepo(), store, service.AuthConfig{
		JWTSecret:  secret,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		OTPTTL:     10 * time.Minute,
		BcryptCost: 4,
	}, log)
	addresses := service.NewAddressService(store.AddressRepo())
	cache := middleware.NewResponseCache(config.CacheConfig{}, nil, log)
	passthrough := middleware.NewTokenBucket(config.RateLimitConfig{}, nil, log)

	e := echo.New()
	e.Validator = service.NewValidator()
	router.RegisterAuth(e, handler.NewAuthHandler(auth, log), secret, internalSecret, passthrough)
	router.RegisterCatalog(e, handler.NewCatalogHandler(catalog, log), cache)
	router.RegisterCheckout(e, handler.NewCheckoutHandler(reservations, log), secret, passthrough)
	router.RegisterAccount(e, handler.NewAccountHandler(addresses, orders, log), secret)
	router.RegisterAdmin(e, handler.NewAdminOrderHandler(orders, log), handler.NewAdminInstrumentHandler(catalog, cache, log), secret)
	return &server{e: e, store: store}
}

func (s *server) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *server) violin(title, price string) model.Instrument {
	return s.store.AddInstrument(model.Instrument{
		Slug:   strings.ToLower(strings.ReplaceAll(title, " ", "-")),
		Type:   "violin",
		Title:  title,
		Price:  decimal.RequireFromString(price),
		Status: model.InstrumentAvailable,
		Stock:  1,
	})
}

func token(t *testing.T, id uint64, role, email string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, id, role, email, time.Minute)
	require.NoError(t, err)
	return tok.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func pickupBody(email, total string, ids ...uint64) string {
	items := make([]map[string]uint64, len(ids))
	for i, id := range ids {
		items[i] = map[string]uint64{"instrumentId": id}
	}
	bs, _ := json.Marshal(map[string]any{
		"items":          items,
		"firstName":      "Clara",
		"lastName":       "Wieck",
		"email":          email,
		"phone":          "+49 30 1234",
		"deliveryMethod": "pickup",
		"total":          total,
	})
	return string(bs)
}

func TestCreateReservation_Pickup(t *testing.T) {
	s := newServer(t)
	v := s.violin("Stradivari copy", "1200")

	rec := s.do(http.MethodPost, "/api/checkout/create-reservation", "", pickupBody("clara@example.com", "1200", v.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Regexp(t, `^SI-[A-Z0-9]+-[A-Z0-9]{4}$`, body["reservationNumber"])
	assert.Equal(t, "pending_payment", body["status"])
	assert.Equal(t, "1200", body["total"])

	inst, _ := s.store.Instrument(v.ID)
	assert.Equal(t, model.InstrumentReserved, inst.Status)
	assert.ElementsMatch(t,
		[]string{model.JobReservationConfirmation, model.JobOwnerNotification},
		s.store.OutboxKinds())

	// The same instrument cannot be reserved twice.
	rec = s.do(http.MethodPost, "/api/checkout/create-reservation", "", pickupBody("other@example.com", "1200", v.ID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.CodeInstrumentUnavailable, decode(t, rec)["error"])
}

func TestCreateReservation_Errors(t *testing.T) {
	s := newServer(t)
	v := s.violin("Viola", "800")

	t.Run("invalid json", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/checkout/create-reservation", "", "{")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, service.CodeInvalidRequest, decode(t, rec)["error"])
	})

	t.Run("delivery needs an address", func(t *testing.T) {
		body := strings.Replace(pickupBody("a@example.com", "800", v.ID), `"pickup"`, `"delivery"`, 1)
		rec := s.do(http.MethodPost, "/api/checkout/create-reservation", "", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		fields, ok := decode(t, rec)["fields"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, fields, "street")
	})

	t.Run("price mismatch", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/checkout/create-reservation", "", pickupBody("a@example.com", "700", v.ID))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, service.CodePriceMismatch, decode(t, rec)["error"])
	})

	t.Run("bad bearer token", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/checkout/create-reservation", "garbage", pickupBody("a@example.com", "800", v.ID))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	assert.Empty(t, s.store.Orders())
}

func TestCreatePaymentIntent_Disabled(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodPost, "/api/checkout/create-payment-intent", "", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, service.CodePaymentsDisabled, decode(t, rec)["error"])
}

func TestQuote(t *testing.T) {
	s := newServer(t)
	a := s.violin("Cello", "3000")
	b := s.violin("Bow", "250")

	rec := s.do(http.MethodPost, "/api/checkout/quote", "",
		`{"deliveryMethod":"pickup","items":[{"instrumentId":`+itoa(a.ID)+`},{"instrumentId":`+itoa(b.ID)+`}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "3250", decode(t, rec)["total"])
}

func TestCatalog(t *testing.T) {
	s := newServer(t)
	s.violin("Amati copy", "900")

	rec := s.do(http.MethodGet, "/api/instruments", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list, _ := decode(t, rec)["instruments"].([]any)
	assert.Len(t, list, 1)

	rec = s.do(http.MethodGet, "/api/instruments?q=AMATI", "", "")
	list, _ = decode(t, rec)["instruments"].([]any)
	assert.Len(t, list, 1)
	rec = s.do(http.MethodGet, "/api/instruments?q=cello", "", "")
	list, _ = decode(t, rec)["instruments"].([]any)
	assert.Empty(t, list)

	rec = s.do(http.MethodGet, "/api/instruments/amati-copy?locale=de", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Amati copy", body["title"])
	assert.Equal(t, "en", body["locale"])

	rec = s.do(http.MethodGet, "/api/instruments/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/auth/register", "", `{"name":"Ada","email":"Ada@Example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/auth/login", "", `{"email":"ada@example.com","password":"correct horse"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, service.CodeEmailNotVerified, decode(t, rec)["error"])

	rec = s.do(http.MethodPost, "/api/auth/verify-otp", "", `{"email":"ada@example.com","code":"000000x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.CodeOTPInvalid, decode(t, rec)["error"])

	code := lastOTP(t, s.store)
	rec = s.do(http.MethodPost, "/api/auth/verify-otp", "", `{"email":"ada@example.com","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["verified"])
	access := body["access"].(map[string]any)["token"].(string)
	refresh := body["refresh"].(map[string]any)["token"].(string)

	rec = s.do(http.MethodGet, "/api/auth/session", access, "")
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "ada@example.com", user["email"])
	assert.Equal(t, true, user["emailVerified"])

	rec = s.do(http.MethodPost, "/api/auth/refresh", "", `{"refresh_token":"`+refresh+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/api/auth/refresh", "", `{"refresh_token":"`+refresh+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/login", "", `{"email":"ada@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyOTP_Expired(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodPost, "/api/auth/register", "", `{"name":"Ada","email":"ada@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	code := lastOTP(t, s.store)
	s.store.ExpireOTP("ada@example.com")

	rec = s.do(http.MethodPost, "/api/auth/verify-otp", "", `{"email":"ada@example.com","code":"`+code+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, service.CodeOTPExpired, body["error"])
	assert.Equal(t, true, body["expired"])
}

func TestSendOTP_UnknownEmail(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodPost, "/api/auth/send-otp", "", `{"email":"nobody@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, s.store.Outbox())
}

func TestOAuth_RequiresInternalSecret(t *testing.T) {
	s := newServer(t)
	body := `{"provider":"google","providerId":"g-1","email":"bo@example.com","name":"Bo"}`

	rec := s.do(http.MethodPost, "/api/auth/oauth", "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/oauth", "", body, "X-Internal-Secret", internalSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, true, user["emailVerified"])
}

func TestAccount(t *testing.T) {
	s := newServer(t)
	v := s.violin("Guarneri copy", "1500")
	tok := token(t, 42, model.RoleCustomer, "clara@example.com")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/account/addresses", "", "").Code)

	rec := s.do(http.MethodPost, "/api/account/addresses", tok,
		`{"firstName":"Clara","lastName":"Wieck","street":"Hauptstr. 1","city":"Leipzig","zip":"04109","country":"DE"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["isDefault"])

	rec = s.do(http.MethodGet, "/api/account/addresses", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list, _ := decode(t, rec)["addresses"].([]any)
	assert.Len(t, list, 1)

	rec = s.do(http.MethodDelete, "/api/account/addresses/999", tok, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A guest order placed with the same email shows up in the history.
	rec = s.do(http.MethodPost, "/api/checkout/create-reservation", "", pickupBody("clara@example.com", "1500", v.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	number := decode(t, rec)["reservationNumber"].(string)

	rec = s.do(http.MethodGet, "/api/account/orders", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	orders, _ := decode(t, rec)["orders"].([]any)
	assert.Len(t, orders, 1)

	rec = s.do(http.MethodGet, "/api/account/orders/"+number, tok, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	stranger := token(t, 43, model.RoleCustomer, "someone@example.com")
	rec = s.do(http.MethodGet, "/api/account/orders/"+number, stranger, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminOrders(t *testing.T) {
	s := newServer(t)
	v := s.violin("Double bass", "4000")
	admin := token(t, 1, model.RoleAdmin, "owner@example.com")

	rec := s.do(http.MethodPost, "/api/checkout/create-reservation", "", pickupBody("clara@example.com", "4000", v.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	id := itoa(uint64(decode(t, rec)["orderId"].(float64)))

	customer := token(t, 42, model.RoleCustomer, "clara@example.com")
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/admin/orders", customer, "").Code)

	rec = s.do(http.MethodGet, "/api/admin/orders?status=pending_payment", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])

	rec = s.do(http.MethodGet, "/api/admin/orders?status=lost", admin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPatch, "/api/admin/orders/"+id+"/status", admin, `{"status":"paid"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", decode(t, rec)["status"])
	inst, _ := s.store.Instrument(v.ID)
	assert.Equal(t, model.InstrumentSold, inst.Status)
	assert.Equal(t, 0, inst.Stock)

	rec = s.do(http.MethodPatch, "/api/admin/orders/"+id+"/status", admin, `{"status":"pending_payment"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.CodeInvalidTransition, decode(t, rec)["error"])

	rec = s.do(http.MethodGet, "/api/admin/orders/abc", admin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/api/admin/orders/999", admin, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminInstruments(t *testing.T) {
	s := newServer(t)
	admin := token(t, 1, model.RoleAdmin, "owner@example.com")

	rec := s.do(http.MethodPost, "/api/admin/instruments", admin,
		`{"slug":"baroque-violin","type":"violin","price":"2500","status":"available","stock":1,"title":"Baroque violin","notes":"Gut strings."}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := itoa(uint64(decode(t, rec)["id"].(float64)))
	assert.Equal(t, []string{model.JobTranslateInstrument}, s.store.OutboxKinds())

	rec = s.do(http.MethodPut, "/api/admin/instruments/"+id+"/translations/de", admin, `{"title":"Barockgeige","notes":"Darmsaiten."}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/instruments/baroque-violin?locale=de", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Barockgeige", decode(t, rec)["title"])

	rec = s.do(http.MethodPut, "/api/admin/instruments/999/translations/de", admin, `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/api/admin/instruments/"+id, admin, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/api/instruments/baroque-violin", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }

// lastOTP returns the code of the most recent verification email.
func lastOTP(t *testing.T, store *testutil.Store) string {
	t.Helper()
	msgs := store.Outbox()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == model.JobOTP {
			var p model.OTPEmailPayload
			require.NoError(t, json.Unmarshal(msgs[i].Payload, &p))
			return p.Code
		}
	}
	t.Fatal("no otp email queued")
	return ""
}

func TestMistypedBodyHasNoSideEffects(t *testing.T) {
	s := newServer(t)
	v := s.violin("Gamba", "2200")

	body := strings.TrimSuffix(pickupBody("clara@example.com", "2200", v.ID), "}") + `,"notes":5}`
	rec := s.do(http.MethodPost, "/api/checkout/create-reservation", "", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.CodeInvalidRequest, decode(t, rec)["error"])
	assert.Empty(t, s.store.Orders())
	inst, _ := s.store.Instrument(v.ID)
	assert.Equal(t, model.InstrumentAvailable, inst.Status)
	assert.Empty(t, s.store.Outbox())

	rec = s.do(http.MethodPost, "/api/checkout/create-reservation", "", pickupBody("clara@example.com", "2200", v.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	id := itoa(uint64(decode(t, rec)["orderId"].(float64)))

	admin := token(t, 1, model.RoleAdmin, "owner@example.com")
	rec = s.do(http.MethodPatch, "/api/admin/orders/"+id+"/status", admin, `{"status":"paid","trackingNumber":42}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	decode(t, rec)
	assert.Equal(t, model.OrderPendingPayment, s.store.Orders()[0].Status)
}
