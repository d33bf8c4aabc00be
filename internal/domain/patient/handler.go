package patient

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/internal/platform/router"
	"github.com/ehr/records/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes lists the patient and custom-field endpoints. Every one of them,
// reads included, needs an authenticated caller.
func (h *Handler) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Path: "/patients", Handler: h.ListPatients, Access: router.Authenticated, Name: "patients.list"},
		{Method: http.MethodPost, Path: "/patients", Handler: h.CreatePatient, Access: router.Authenticated, Name: "patients.create"},
		{Method: http.MethodGet, Path: "/patients/stats", Handler: h.PatientStats, Access: router.Authenticated, Name: "patients.stats"},
		{Method: http.MethodGet, Path: "/patients/:id", Handler: h.GetPatient, Access: router.Authenticated, Name: "patients.get"},
		{Method: http.MethodPut, Path: "/patients/:id", Handler: h.UpdatePatient, Access: router.Authenticated, Name: "patients.update"},
		{Method: http.MethodPatch, Path: "/patients/:id", Handler: h.PatchPatient, Access: router.Authenticated, Name: "patients.patch"},
		{Method: http.MethodDelete, Path: "/patients/:id", Handler: h.DeletePatient, Access: router.Authenticated, Name: "patients.delete"},
		{Method: http.MethodGet, Path: "/patients/:id/addresses", Handler: h.ListAddresses, Access: router.Authenticated, Name: "patients.addresses"},
		{Method: http.MethodGet, Path: "/patients/:id/custom-fields", Handler: h.ListPatientValues, Access: router.Authenticated, Name: "patients.custom_fields"},

		{Method: http.MethodGet, Path: "/custom-fields", Handler: h.ListCustomFields, Access: router.Authenticated, Name: "custom_fields.list"},
		{Method: http.MethodPost, Path: "/custom-fields", Handler: h.CreateCustomField, Access: router.Authenticated, Name: "custom_fields.create"},
		{Method: http.MethodGet, Path: "/custom-fields/:id", Handler: h.GetCustomField, Access: router.Authenticated, Name: "custom_fields.get"},
		{Method: http.MethodPut, Path: "/custom-fields/:id", Handler: h.UpdateCustomField, Access: router.Authenticated, Name: "custom_fields.update"},
		{Method: http.MethodPatch, Path: "/custom-fields/:id", Handler: h.PatchCustomField, Access: router.Authenticated, Name: "custom_fields.patch"},
		{Method: http.MethodDelete, Path: "/custom-fields/:id", Handler: h.DeleteCustomField, Access: router.Authenticated, Name: "custom_fields.delete"},
		{Method: http.MethodGet, Path: "/custom-fields/:id/values", Handler: h.ListFieldValues, Access: router.Authenticated, Name: "custom_fields.values"},
	}
}

// -- Patient Handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	var in PatientInput
	if err := bind(c, &in); err != nil {
		return err
	}
	rec, err := h.svc.CreatePatient(c.Request().Context(), actor, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, NewPatientResponse(rec))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewPatientResponse(rec))
}

func (h *Handler) ListPatients(c echo.Context) error {
	f := ListFilter{
		Search:   strings.TrimSpace(c.QueryParam("search")),
		Ordering: c.QueryParam("ordering"),
	}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		s, err := ParseStatus(raw)
		if err != nil {
			return err
		}
		f.Status = s
	}

	pg := pagination.FromContext(c)
	records, total, err := h.svc.ListPatients(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(NewPatientResponses(records), total, pg).WithLinks(c))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	return h.updatePatient(c, false)
}

func (h *Handler) PatchPatient(c echo.Context) error {
	return h.updatePatient(c, true)
}

func (h *Handler) updatePatient(c echo.Context, partial bool) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in PatientInput
	if err := bind(c, &in); err != nil {
		return err
	}
	rec, err := h.svc.UpdatePatient(c.Request().Context(), id, &in, partial)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewPatientResponse(rec))
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PatientStats(c echo.Context) error {
	counts, err := h.svc.PatientStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewStatsResponse(counts))
}

func (h *Handler) ListAddresses(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	addrs, err := h.svc.ListAddresses(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewAddressResponses(addrs))
}

func (h *Handler) ListPatientValues(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	values, err := h.svc.ListPatientValues(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewValueResponses(values, false))
}

// -- Custom Field Handlers --

func (h *Handler) CreateCustomField(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	var in CustomFieldInput
	if err := bind(c, &in); err != nil {
		return err
	}
	f, err := h.svc.CreateCustomField(c.Request().Context(), actor, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, NewCustomFieldResponse(f))
}

func (h *Handler) GetCustomField(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.GetCustomField(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewCustomFieldResponse(f))
}

func (h *Handler) ListCustomFields(c echo.Context) error {
	f := FieldFilter{
		Search:   strings.TrimSpace(c.QueryParam("search")),
		Ordering: c.QueryParam("ordering"),
	}
	pg := pagination.FromContext(c)
	fields, total, err := h.svc.ListCustomFields(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(NewCustomFieldResponses(fields), total, pg).WithLinks(c))
}

func (h *Handler) UpdateCustomField(c echo.Context) error {
	return h.updateCustomField(c, false)
}

func (h *Handler) PatchCustomField(c echo.Context) error {
	return h.updateCustomField(c, true)
}

func (h *Handler) updateCustomField(c echo.Context, partial bool) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in CustomFieldInput
	if err := bind(c, &in); err != nil {
		return err
	}
	f, err := h.svc.UpdateCustomField(c.Request().Context(), id, &in, partial)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewCustomFieldResponse(f))
}

func (h *Handler) DeleteCustomField(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCustomField(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListFieldValues(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	values, err := h.svc.ListFieldValues(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewValueResponses(values, true))
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func actorID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, apperr.Unauthenticated("authentication credentials were not provided")
	}
	return id, nil
}

func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "malformed request body")
	}
	return nil
}
